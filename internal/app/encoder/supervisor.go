// Package encoder runs and supervises the ffmpeg subprocess that turns the
// relayed RTP into an FLV push.
package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
	"github.com/dkeye/relaygw/internal/metrics"
)

const (
	DefaultReadyPrefix  = "ffmpeg version"
	DefaultSettleDelay  = time.Second
	DefaultReadyTimeout = 10 * time.Second
)

type Config struct {
	Binary       string
	MinVersion   string
	AudioCodec   string
	VideoCodec   string
	Preset       string
	Tune         string
	ReadyPrefix  string
	SettleDelay  time.Duration
	ReadyTimeout time.Duration
}

type Supervisor struct {
	cfg     Config
	metrics *metrics.Metrics

	// Command builds the subprocess; tests replace it.
	Command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New(cfg Config, m *metrics.Metrics) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.MinVersion == "" {
		cfg.MinVersion = "4.0.0"
	}
	if cfg.ReadyPrefix == "" {
		cfg.ReadyPrefix = DefaultReadyPrefix
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ReadyTimeout <= cfg.SettleDelay {
		cfg.ReadyTimeout = cfg.SettleDelay + DefaultReadyTimeout
	}
	return &Supervisor{cfg: cfg, metrics: m, Command: exec.CommandContext}
}

// Preflight checks that the binary runs and is recent enough.
func (s *Supervisor) Preflight(ctx context.Context) error {
	out, err := s.Command(ctx, s.cfg.Binary, "-version").Output()
	if err != nil {
		return domain.E(domain.KindConfiguration, "encoder preflight",
			fmt.Errorf("%w: %s -version: %w", domain.ErrVersion, s.cfg.Binary, err))
	}
	version, err := CheckVersion(string(out), s.cfg.MinVersion)
	if err != nil {
		return domain.E(domain.KindConfiguration, "encoder preflight", err)
	}
	log.Info().Str("module", "encoder").Str("version", version).Msg("encoder preflight ok")
	return nil
}

// Spawn starts the encoder. The process outlives ctx; stop it with Stop.
func (s *Supervisor) Spawn(_ context.Context, req core.SpawnRequest) (core.EncoderProcess, error) {
	if req.Input == "" || req.Destination == "" {
		return nil, domain.E(domain.KindClient, "spawn encoder",
			fmt.Errorf("%w: input and destination are required", domain.ErrStartFailed))
	}
	args := s.Args(req)
	cmd := s.Command(context.Background(), s.cfg.Binary, args...)
	log.Info().
		Str("module", "encoder").
		Str("cmd", s.cfg.Binary+" "+strings.Join(args, " ")).
		Msg("run command")

	p, err := start(cmd, s.cfg, s.metrics)
	if err != nil {
		return nil, domain.E(domain.KindSubprocess, "spawn encoder", fmt.Errorf("%w: %w", domain.ErrStartFailed, err))
	}
	return p, nil
}
