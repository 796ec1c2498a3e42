package publicip

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/relaygw/internal/domain"
)

func serve(t *testing.T, status int, body string, delay time.Duration) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
		err    bool
	}{
		{name: "ipv4 with newline", status: 200, body: "203.0.113.7\n", want: "203.0.113.7"},
		{name: "ipv6", status: 200, body: " 2001:db8::1 ", want: "2001:db8::1"},
		{name: "garbage", status: 200, body: "<html>", err: true},
		{name: "server error", status: 502, body: "bad gateway", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(serve(t, tt.status, tt.body, 0), time.Second)
			got, err := r.Lookup(context.Background())
			if tt.err {
				require.Error(t, err)
				assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupTimeout(t *testing.T) {
	r := New(serve(t, 200, "203.0.113.7", time.Second), 50*time.Millisecond)
	start := time.Now()
	_, err := r.Lookup(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
