package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/relaygw/internal/config"
	"github.com/dkeye/relaygw/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			Codecs: domain.DefaultCodecs(),
			Worker: config.WorkerConfig{RTCMinPort: 40000, RTCMaxPort: 40100},
			WebRTCTransport: config.WebRTCTransportConfig{
				ListenIPs: []config.ListenIP{{IP: "0.0.0.0"}, {IP: "10.0.0.2", AnnouncedIP: "198.51.100.1"}},
			},
			Streaming: config.StreamingConfig{IP: "127.0.0.1", AudioPort: 5004, AudioRTCPPort: 5005, VideoPort: 5006, VideoRTCPPort: 5007},
		},
		Encoder: config.EncoderConfig{OutputURL: "rtmp://127.0.0.1/live/a", StopTimeout: 3 * time.Second},
	}
}

func TestSessionConfig(t *testing.T) {
	sc := sessionConfig(testConfig())
	assert.Equal(t, uint16(40000), sc.Worker.RTCMinPort)
	assert.Len(t, sc.WebRTCTransport.ListenIPs, 2)
	assert.Equal(t, 5006, sc.Targets[domain.Video].Port)
	assert.Equal(t, 5005, sc.Targets[domain.Audio].RTCPPort)
	assert.Equal(t, "rtmp://127.0.0.1/live/a", sc.Destination)
	assert.Equal(t, 3*time.Second, sc.StopTimeout)
}

func TestTeardownOutlastsEncoderStop(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 8*time.Second, teardownTimeout(cfg))
	cfg.Encoder.StopTimeout = 0
	assert.Equal(t, 15*time.Second, teardownTimeout(cfg))
}

func TestAnnounceFillsEmptyAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("203.0.113.9\n"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PublicIP = config.PublicIPConfig{Enabled: true, URL: srv.URL, Timeout: time.Second}
	announce(context.Background(), cfg)

	ips := cfg.Relay.WebRTCTransport.ListenIPs
	require.Len(t, ips, 2)
	assert.Equal(t, "203.0.113.9", ips[0].AnnouncedIP)
	assert.Equal(t, "198.51.100.1", ips[1].AnnouncedIP)
}

func TestAnnounceDisabled(t *testing.T) {
	cfg := testConfig()
	announce(context.Background(), cfg)
	assert.Empty(t, cfg.Relay.WebRTCTransport.ListenIPs[0].AnnouncedIP)
}
