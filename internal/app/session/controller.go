// Package session sequences the relay session: engine, inbound transport,
// producers, outbound legs and the encoder. All state changes run on one
// command loop.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
	"github.com/dkeye/relaygw/internal/metrics"
)

const defaultStopTimeout = 10 * time.Second

type Config struct {
	Codecs          []domain.Codec
	Worker          core.WorkerConfig
	WebRTCTransport core.WebRTCTransportOptions
	PlainTransport  core.PlainTransportOptions
	// Targets are the encoder listen addresses per kind.
	Targets     map[domain.MediaKind]core.RemoteAddr
	Destination string
	StopTimeout time.Duration
}

type Controller struct {
	cfg     Config
	engine  core.RelayEngine
	encoder core.EncoderSupervisor
	inputs  core.InputProvider
	metrics *metrics.Metrics

	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	// owned by the loop
	machine *fsm.FSM
	state   domain.State
	sess    *Session
	loopCtx context.Context

	snapshot atomic.Pointer[Snapshot]
	broker   *Broker
	fatal    chan error
}

func New(cfg Config, engine core.RelayEngine, encoder core.EncoderSupervisor, inputs core.InputProvider, m *metrics.Metrics) *Controller {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	c := &Controller{
		cfg:     cfg,
		engine:  engine,
		encoder: encoder,
		inputs:  inputs,
		metrics: m,
		cmds:    make(chan command, 16),
		done:    make(chan struct{}),
		state:   domain.StateIdle,
		broker:  NewBroker(),
		fatal:   make(chan error, 1),
		loopCtx: context.Background(),
	}
	c.machine = newMachine(c.enterState)
	c.publishSnapshot()
	m.SetState(domain.StateIdle)
	return c
}

// Run processes commands until ctx is done, then tears the session down.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: controller already running", domain.ErrInvalidState)
	}
	c.loopCtx = ctx
	defer close(c.done)
	log.Info().Str("module", "session").Msg("controller started")
	for {
		select {
		case <-ctx.Done():
			c.teardownAll("shutdown")
			c.setIdle()
			log.Info().Str("module", "session").Msg("controller stopped")
			return nil
		case cmd := <-c.cmds:
			c.handle(cmd)
		}
	}
}

func (c *Controller) handle(cmd command) {
	var res result
	var pc panics.Catcher
	pc.Try(func() { res = c.dispatch(cmd) })
	if rec := pc.Recovered(); rec != nil {
		log.Error().Str("module", "session").Str("command", cmd.kind.String()).Str("panic", fmt.Sprint(rec.Value)).Msg("command panicked")
		res = result{err: domain.E(domain.KindInternal, cmd.kind.String(), rec.AsError())}
	}
	if cmd.kind.external() {
		c.metrics.ObserveCommand(cmd.kind.String(), res.err)
	}
	c.publishSnapshot()
	if cmd.reply != nil {
		cmd.reply <- res
	}
}

// Fatal delivers unrecoverable errors; the host is expected to restart.
func (c *Controller) Fatal() <-chan error { return c.fatal }

// Subscribe returns controller events until cancel is called.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.broker.Subscribe(buffer)
}

func (c *Controller) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

func (c *Controller) publishSnapshot() {
	snap := c.sess.snapshot(c.state)
	c.snapshot.Store(&snap)
}

func (c *Controller) enterState(s domain.State) {
	prev := c.state
	c.state = s
	c.metrics.SetState(s)
	log.Info().Str("module", "session").Str("from", string(prev)).Str("to", string(s)).Msg("state changed")
	c.publishSnapshot()
	c.broker.Publish(Event{Type: EventState, State: s})
}

// setIdle forces the machine back to idle.
func (c *Controller) setIdle() {
	c.machine.SetState(string(domain.StateIdle))
	if c.state != domain.StateIdle {
		c.enterState(domain.StateIdle)
	}
}

func (c *Controller) do(ctx context.Context, cmd command) (any, error) {
	cmd.reply = make(chan result, 1)
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, domain.E(domain.KindInternal, cmd.kind.String(), domain.ErrClosed)
	}
	select {
	case res := <-cmd.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, domain.E(domain.KindInternal, cmd.kind.String(), domain.ErrClosed)
	}
}

// post enqueues an internal command without waiting.
func (c *Controller) post(cmd command) {
	go func() {
		select {
		case c.cmds <- cmd:
		case <-c.done:
		}
	}()
}

// StartEngine is START_MEDIASOUP: (re)create the worker and router for the
// named video codec and return the router capabilities.
func (c *Controller) StartEngine(ctx context.Context, videoCodec string) (core.RTPCapabilities, error) {
	v, err := c.do(ctx, command{kind: cmdStartEngine, videoCodec: videoCodec})
	if err != nil {
		return core.RTPCapabilities{}, err
	}
	return v.(core.RTPCapabilities), nil
}

// OpenIngest is WEBRTC_RECV_START.
func (c *Controller) OpenIngest(ctx context.Context) (core.TransportParameters, error) {
	v, err := c.do(ctx, command{kind: cmdOpenIngest})
	if err != nil {
		return core.TransportParameters{}, err
	}
	return v.(core.TransportParameters), nil
}

// ConnectIngest is WEBRTC_RECV_CONNECT.
func (c *Controller) ConnectIngest(ctx context.Context, params core.ConnectParameters) error {
	_, err := c.do(ctx, command{kind: cmdConnectIngest, connect: params})
	return err
}

// Produce is WEBRTC_RECV_PRODUCE and returns the producer id.
func (c *Controller) Produce(ctx context.Context, params core.ProduceParameters) (string, error) {
	v, err := c.do(ctx, command{kind: cmdProduce, produce: params})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// StartStream is START_RECORDING. An empty destination uses the configured one.
func (c *Controller) StartStream(ctx context.Context, destination string) error {
	_, err := c.do(ctx, command{kind: cmdStartStream, destination: destination})
	return err
}

// StopStream is STOP_RECORDING; a no-op unless streaming.
func (c *Controller) StopStream(ctx context.Context) error {
	_, err := c.do(ctx, command{kind: cmdStopStream})
	return err
}

// Reset tears everything down and returns to idle.
func (c *Controller) Reset(ctx context.Context) error {
	_, err := c.do(ctx, command{kind: cmdReset})
	return err
}

func newSessionID() string { return uuid.NewString() }
