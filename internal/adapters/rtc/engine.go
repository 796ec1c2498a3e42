// Package rtc is an in-process relay engine over pion. A worker owns routers,
// a router owns one media engine and its transports, producers feed sfu
// relays and consumers write rewritten RTP to plain UDP legs.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
	"github.com/dkeye/relaygw/internal/metrics"
)

type Engine struct {
	metrics *metrics.Metrics
}

func NewEngine(m *metrics.Metrics) *Engine {
	return &Engine{metrics: m}
}

// StartWorker validates the port range and returns a running worker.
func (e *Engine) StartWorker(_ context.Context, cfg core.WorkerConfig) (core.Worker, error) {
	if cfg.RTCMinPort == 0 || cfg.RTCMaxPort < cfg.RTCMinPort {
		return nil, domain.E(domain.KindEngine, "start worker",
			fmt.Errorf("%w: port range %d-%d", domain.ErrEngineStart, cfg.RTCMinPort, cfg.RTCMaxPort))
	}
	w := &Worker{
		id:      uuid.NewString(),
		cfg:     cfg,
		loggers: newLoggerFactory(cfg.LogLevel),
		metrics: e.metrics,
		died:    make(chan error, 1),
		routers: make(map[string]*Router),
	}
	log.Info().
		Str("module", "rtc").
		Str("worker", w.id).
		Uint16("min_port", cfg.RTCMinPort).
		Uint16("max_port", cfg.RTCMaxPort).
		Msg("worker started")
	return w, nil
}

type Worker struct {
	id      string
	cfg     core.WorkerConfig
	loggers logging.LoggerFactory
	metrics *metrics.Metrics

	dieOnce sync.Once
	died    chan error

	mu      sync.Mutex
	closed  bool
	routers map[string]*Router
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Died() <-chan error { return w.died }

// die reports err once on Died. Later failures are logged only.
func (w *Worker) die(err error) {
	reported := false
	w.dieOnce.Do(func() {
		reported = true
		w.died <- err
	})
	if reported {
		log.Error().Err(err).Str("module", "rtc").Str("worker", w.id).Msg("worker died")
		return
	}
	log.Warn().Err(err).Str("module", "rtc").Str("worker", w.id).Msg("worker failure after death")
}

func (w *Worker) CreateRouter(_ context.Context, codecs []domain.Codec) (core.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, domain.E(domain.KindEngine, "create router", domain.ErrClosed)
	}
	r, err := newRouter(w, codecs)
	if err != nil {
		return nil, err
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, id)
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = map[string]*Router{}
	w.mu.Unlock()

	var result *multierror.Error
	for _, r := range routers {
		result = multierror.Append(result, core.CloseQuietly(r))
	}
	log.Info().Str("module", "rtc").Str("worker", w.id).Msg("worker closed")
	return result.ErrorOrNil()
}
