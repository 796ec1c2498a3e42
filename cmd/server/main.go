package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	router "github.com/dkeye/relaygw/internal/adapters/http"
	"github.com/dkeye/relaygw/internal/adapters/publicip"
	"github.com/dkeye/relaygw/internal/adapters/rtc"
	"github.com/dkeye/relaygw/internal/adapters/sdpdoc"
	gateway "github.com/dkeye/relaygw/internal/adapters/signal"
	"github.com/dkeye/relaygw/internal/app/encoder"
	"github.com/dkeye/relaygw/internal/app/session"
	"github.com/dkeye/relaygw/internal/config"
	"github.com/dkeye/relaygw/internal/metrics"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to config file (default config/config.$CONFIG_ENV.yaml)")
	pflag.Parse()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	restart, err := run(cfg)
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
	if !restart {
		if err != nil {
			os.Exit(1)
		}
		return
	}
	reexec()
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// run serves until an OS signal, a restart request or a fatal session error.
// It reports whether the process should re-execute itself.
func run(cfg *config.Config) (bool, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.CheckCertificates(); err != nil {
		return false, err
	}
	announce(ctx, cfg)

	m := metrics.New()
	enc := encoder.New(encoderConfig(cfg), m)
	if err := enc.Preflight(ctx); err != nil {
		log.Warn().Err(err).Str("module", "encoder").Msg("encoder preflight failed, streaming will not start until fixed")
	}
	docs := sdpdoc.New(afero.NewOsFs(), sdpConfig(cfg))
	ctrl := session.New(sessionConfig(cfg), rtc.NewEngine(m), enc, docs, m)
	gw := gateway.NewGateway(ctrl, gatewayOptions(cfg), m)

	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(ctx) }()
	go gw.Run(ctx)

	restartReq := make(chan struct{}, 1)
	r := router.SetupRouter(ctx, cfg, router.Deps{
		Gateway: gw,
		Status:  ctrl,
		Metrics: m,
		Restart: func() {
			select {
			case restartReq <- struct{}{}:
			default:
			}
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled()).Msg("relay gateway started")
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.Server.Cert, cfg.Server.CertKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var (
		restart bool
		runErr  error
	)
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-restartReq:
		log.Warn().Msg("restarting on request")
		restart = true
	case err := <-ctrl.Fatal():
		log.Error().Err(err).Dur("delay", cfg.Restart.FatalDelay).Msg("relay session failed, restarting")
		time.Sleep(cfg.Restart.FatalDelay)
		restart = true
		runErr = err
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	teardown := time.NewTimer(teardownTimeout(cfg))
	defer teardown.Stop()
	select {
	case <-ctrlDone:
	case <-teardown.C:
		log.Warn().Msg("session teardown timed out")
	}
	log.Info().Msg("Server exited gracefully")
	return restart, runErr
}

// announce replaces empty announced addresses with the discovered public one.
func announce(ctx context.Context, cfg *config.Config) {
	if !cfg.PublicIP.Enabled {
		return
	}
	ip, err := publicip.New(cfg.PublicIP.URL, cfg.PublicIP.Timeout).Lookup(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "publicip").Msg("public address lookup failed, announcing listen addresses")
		return
	}
	for i := range cfg.Relay.WebRTCTransport.ListenIPs {
		if cfg.Relay.WebRTCTransport.ListenIPs[i].AnnouncedIP == "" {
			cfg.Relay.WebRTCTransport.ListenIPs[i].AnnouncedIP = ip
		}
	}
}

func reexec() {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	log.Info().Str("exe", exe).Msg("re-executing")
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		log.Fatal().Err(err).Msg("restart failed")
	}
}
