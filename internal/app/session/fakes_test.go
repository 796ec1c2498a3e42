package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

// ledger counts live relay resources across the fake engine.
type ledger struct {
	mu       sync.Mutex
	seq      int
	workers  int
	routers  int
	ingests  int
	plain    map[string]domain.MediaKind
	consumed map[string]domain.MediaKind
	closes   map[string]int
	events   []string
}

func newLedger() *ledger {
	return &ledger{plain: map[string]domain.MediaKind{}, consumed: map[string]domain.MediaKind{}, closes: map[string]int{}}
}

func (l *ledger) id(prefix string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return fmt.Sprintf("%s-%d", prefix, l.seq)
}

func (l *ledger) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *ledger) closed(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes[id]++
	return l.closes[id]
}

func (l *ledger) livePlain() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.plain)
}

func (l *ledger) liveConsumers() []domain.MediaKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []domain.MediaKind
	for _, k := range domain.MediaKinds {
		for _, ck := range l.consumed {
			if ck == k {
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}

func (l *ledger) doubleCloses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, n := range l.closes {
		if n > 1 {
			out = append(out, id)
		}
	}
	return out
}

type fakeEngine struct {
	l        *ledger
	startErr error
	// plainErr fails the consumer of this kind
	plainErr   map[domain.MediaKind]error
	produceErr error
	lastWorker *fakeWorker
	lastIngest *fakeIngest
}

func (e *fakeEngine) StartWorker(_ context.Context, _ core.WorkerConfig) (core.Worker, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.l.mu.Lock()
	e.l.workers++
	e.l.mu.Unlock()
	w := &fakeWorker{id: e.l.id("worker"), e: e, died: make(chan error, 1)}
	e.lastWorker = w
	return w, nil
}

type fakeWorker struct {
	id   string
	e    *fakeEngine
	died chan error
}

func (w *fakeWorker) ID() string         { return w.id }
func (w *fakeWorker) Died() <-chan error { return w.died }

func (w *fakeWorker) CreateRouter(_ context.Context, codecs []domain.Codec) (core.Router, error) {
	w.e.l.mu.Lock()
	w.e.l.routers++
	w.e.l.mu.Unlock()
	return &fakeRouter{id: w.e.l.id("router"), e: w.e, caps: core.RTPCapabilities{Codecs: codecs}}, nil
}

func (w *fakeWorker) Close() error {
	if w.e.l.closed(w.id) == 1 {
		w.e.l.mu.Lock()
		w.e.l.workers--
		w.e.l.mu.Unlock()
	}
	return nil
}

type fakeRouter struct {
	id   string
	e    *fakeEngine
	caps core.RTPCapabilities
}

func (r *fakeRouter) ID() string                         { return r.id }
func (r *fakeRouter) Capabilities() core.RTPCapabilities { return r.caps }

func (r *fakeRouter) CreateWebRTCTransport(context.Context, core.WebRTCTransportOptions) (core.WebRTCTransport, error) {
	r.e.l.mu.Lock()
	r.e.l.ingests++
	r.e.l.mu.Unlock()
	id := r.e.l.id("ingest")
	t := &fakeIngest{id: id, e: r.e, params: core.TransportParameters{ID: id}, failed: make(chan error, 1)}
	r.e.lastIngest = t
	return t, nil
}

func (r *fakeRouter) CreatePlainTransport(context.Context, core.PlainTransportOptions) (core.PlainTransport, error) {
	t := &fakePlain{id: r.e.l.id("plain"), e: r.e}
	r.e.l.mu.Lock()
	r.e.l.plain[t.id] = ""
	r.e.l.mu.Unlock()
	return t, nil
}

func (r *fakeRouter) Close() error {
	if r.e.l.closed(r.id) == 1 {
		r.e.l.mu.Lock()
		r.e.l.routers--
		r.e.l.mu.Unlock()
	}
	return nil
}

type fakeIngest struct {
	id        string
	e         *fakeEngine
	params    core.TransportParameters
	connected bool
	failed    chan error
}

func (t *fakeIngest) ID() string                           { return t.id }
func (t *fakeIngest) Parameters() core.TransportParameters { return t.params }
func (t *fakeIngest) Failed() <-chan error                 { return t.failed }

func (t *fakeIngest) Connect(_ context.Context, p core.ConnectParameters) error {
	if t.connected {
		return domain.ErrAlreadyConnected
	}
	if len(p.DTLSParameters.Fingerprints) == 0 {
		return domain.E(domain.KindClient, "connect", domain.ErrConnect)
	}
	t.connected = true
	return nil
}

func (t *fakeIngest) Produce(_ context.Context, p core.ProduceParameters) (core.Producer, error) {
	if !t.connected {
		return nil, domain.E(domain.KindClient, "produce", domain.ErrNotConnected)
	}
	if t.e.produceErr != nil {
		return nil, t.e.produceErr
	}
	kind, err := p.MediaKind()
	if err != nil {
		return nil, domain.E(domain.KindClient, "produce", err)
	}
	return &fakeProducer{id: t.e.l.id("producer-" + string(kind)), kind: kind, e: t.e}, nil
}

func (t *fakeIngest) Close() error {
	if t.e.l.closed(t.id) == 1 {
		t.e.l.mu.Lock()
		t.e.l.ingests--
		t.e.l.mu.Unlock()
	}
	return nil
}

type fakeProducer struct {
	id   string
	kind domain.MediaKind
	e    *fakeEngine
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Close() error {
	p.e.l.closed(p.id)
	return nil
}

type fakePlain struct {
	id     string
	e      *fakeEngine
	remote core.RemoteAddr
}

func (t *fakePlain) ID() string { return t.id }

func (t *fakePlain) Connect(_ context.Context, remote core.RemoteAddr) error {
	t.remote = remote
	return nil
}

func (t *fakePlain) Tuple() core.Tuple {
	return core.Tuple{LocalIP: "127.0.0.1", LocalPort: 40000, RemoteIP: t.remote.IP, RemotePort: t.remote.Port, Protocol: "udp"}
}

func (t *fakePlain) RTCPTuple() core.Tuple {
	return core.Tuple{LocalIP: "127.0.0.1", LocalPort: 40001, RemoteIP: t.remote.IP, RemotePort: t.remote.RTCPPort, Protocol: "udp"}
}

func (t *fakePlain) Consume(_ context.Context, p core.Producer, _ core.RTPCapabilities) (core.Consumer, error) {
	if err := t.e.plainErr[p.Kind()]; err != nil {
		return nil, err
	}
	c := &fakeConsumer{id: t.e.l.id("consumer-" + string(p.Kind())), kind: p.Kind(), producer: p.ID(), e: t.e, paused: true}
	t.e.l.mu.Lock()
	t.e.l.consumed[c.id] = c.kind
	t.e.l.plain[t.id] = c.kind
	t.e.l.mu.Unlock()
	return c, nil
}

func (t *fakePlain) Close() error {
	t.e.l.closed(t.id)
	t.e.l.mu.Lock()
	delete(t.e.l.plain, t.id)
	t.e.l.mu.Unlock()
	return nil
}

type fakeConsumer struct {
	id       string
	kind     domain.MediaKind
	producer string
	e        *fakeEngine
	paused   bool
}

func (c *fakeConsumer) ID() string             { return c.id }
func (c *fakeConsumer) Kind() domain.MediaKind { return c.kind }
func (c *fakeConsumer) ProducerID() string     { return c.producer }
func (c *fakeConsumer) Paused() bool           { return c.paused }
func (c *fakeConsumer) SSRC() uint32           { return 1234 }

func (c *fakeConsumer) Resume(context.Context) error {
	c.e.l.record("resume " + string(c.kind))
	c.paused = false
	return nil
}

func (c *fakeConsumer) Close() error {
	c.e.l.closed(c.id)
	c.e.l.mu.Lock()
	delete(c.e.l.consumed, c.id)
	c.e.l.mu.Unlock()
	return nil
}

type fakeInputs struct {
	l    *ledger
	err  error
	reqs []core.InputRequest
}

func (f *fakeInputs) Input(_ context.Context, req core.InputRequest) (core.InputDocument, error) {
	if f.err != nil {
		return core.InputDocument{}, f.err
	}
	f.reqs = append(f.reqs, req)
	path := "sdp/vp8.sdp"
	if req.VideoCodec.Is("H264") && slices.Contains(req.Kinds, domain.Video) {
		path = "sdp/h264.sdp"
	}
	return core.InputDocument{Path: path, Cleanup: func() error { f.l.record("cleanup " + path); return nil }}, nil
}

type fakeEncoder struct {
	l            *ledger
	preflightErr error
	// never makes spawned processes skip readiness
	never bool
	// ignoreStop makes Stop a no-op so the kill path runs
	ignoreStop bool

	mu    sync.Mutex
	procs []*fakeProcess
	spawn []core.SpawnRequest
}

func (f *fakeEncoder) Preflight(context.Context) error { return f.preflightErr }

func (f *fakeEncoder) Spawn(_ context.Context, req core.SpawnRequest) (core.EncoderProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProcess{pid: 1000 + len(f.procs), l: f.l, ready: make(chan struct{}), done: make(chan struct{}), ignoreStop: f.ignoreStop}
	f.procs = append(f.procs, p)
	f.spawn = append(f.spawn, req)
	f.l.record("spawn " + req.Input)
	if !f.never {
		go p.becomeReady()
	}
	return p, nil
}

func (f *fakeEncoder) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

type fakeProcess struct {
	pid        int
	l          *ledger
	ignoreStop bool

	once  sync.Once
	ready chan struct{}
	done  chan struct{}

	mu   sync.Mutex
	exit core.ExitStatus
	stop bool
}

func (p *fakeProcess) becomeReady() {
	p.l.record("ready")
	close(p.ready)
}

func (p *fakeProcess) PID() int               { return p.pid }
func (p *fakeProcess) Ready() <-chan struct{} { return p.ready }
func (p *fakeProcess) Done() <-chan struct{}  { return p.done }

func (p *fakeProcess) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(200 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-p.ready:
		return nil
	case <-p.done:
		return domain.E(domain.KindSubprocess, "await encoder", domain.ErrStartFailed)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.E(domain.KindSubprocess, "await encoder", fmt.Errorf("%w: timeout", domain.ErrStartFailed))
	}
}

func (p *fakeProcess) Exit() core.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *fakeProcess) terminate(st core.ExitStatus) {
	p.once.Do(func() {
		p.mu.Lock()
		st.StopRequested = st.StopRequested || p.stop
		p.exit = st
		p.mu.Unlock()
		p.l.record(fmt.Sprintf("exit %d", p.pid))
		close(p.done)
	})
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stop = true
	p.mu.Unlock()
	p.l.record("stop")
	if !p.ignoreStop {
		p.terminate(core.ExitStatus{Code: 255, Signal: syscall.SIGINT})
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.l.record("kill")
	p.terminate(core.ExitStatus{Code: -1, Signal: syscall.SIGKILL, Killed: true})
	return nil
}

func (l *ledger) eventList() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *ledger) count() (workers, routers, ingests int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers, l.routers, l.ingests
}
