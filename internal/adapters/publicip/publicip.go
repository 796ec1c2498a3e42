// Package publicip discovers the address announced in ICE candidates.
package publicip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/domain"
)

var ErrInvalidAddress = errors.New("lookup returned an invalid address")

type Resolver struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func New(url string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{URL: url, Timeout: timeout, Client: http.DefaultClient}
}

// Lookup asks the lookup service for this host's public address.
func (r *Resolver) Lookup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", domain.E(domain.KindConfiguration, "public ip", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", domain.E(domain.KindConfiguration, "public ip", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.E(domain.KindConfiguration, "public ip", fmt.Errorf("unexpected status %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", domain.E(domain.KindConfiguration, "public ip", err)
	}
	addr := strings.TrimSpace(string(body))
	if net.ParseIP(addr) == nil {
		return "", domain.E(domain.KindConfiguration, "public ip", fmt.Errorf("%w: %q", ErrInvalidAddress, addr))
	}
	log.Info().Str("module", "publicip").Str("ip", addr).Msg("public address resolved")
	return addr, nil
}
