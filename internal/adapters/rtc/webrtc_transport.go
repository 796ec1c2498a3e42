package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

const defaultConnectTimeout = 15 * time.Second

// WebRTCTransport is the browser-facing ORTC stack: gatherer, ICE in the
// controlled role and DTLS. It only receives.
type WebRTCTransport struct {
	id     string
	router *Router
	logger zerolog.Logger

	api      *webrtc.API
	tcp      net.Listener
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParameters
	timeout  time.Duration

	connecting atomic.Bool
	connected  chan struct{}
	connErr    error
	failed     chan error
	failOnce   sync.Once

	mu        sync.Mutex
	closed    bool
	producers map[string]*Producer
	stop      context.CancelFunc
}

func newWebRTCTransport(ctx context.Context, r *Router, opts core.WebRTCTransportOptions) (*WebRTCTransport, error) {
	api, tcp, err := r.api(opts)
	if err != nil {
		return nil, domain.E(domain.KindEngine, "create webrtc transport", err)
	}
	t := &WebRTCTransport{
		id:        uuid.NewString(),
		router:    r,
		api:       api,
		tcp:       tcp,
		timeout:   opts.ConnectTimeout,
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
		producers: make(map[string]*Producer),
	}
	if t.timeout <= 0 {
		t.timeout = defaultConnectTimeout
	}
	t.logger = log.With().Str("module", "rtc").Str("transport", t.id).Logger()

	if err := t.open(ctx); err != nil {
		_ = t.Close()
		return nil, domain.E(domain.KindEngine, "create webrtc transport", err)
	}
	t.logger.Info().Int("candidates", len(t.params.ICECandidates)).Msg("webrtc transport created")
	return t, nil
}

func (t *WebRTCTransport) open(ctx context.Context) error {
	gatherer, err := t.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return err
	}
	t.gatherer = gatherer

	done := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.ice = t.api.NewICETransport(gatherer)
	t.ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed {
			t.fail(fmt.Errorf("%w: ice failed", domain.ErrConnect))
		}
	})
	dtls, err := t.api.NewDTLSTransport(t.ice, nil)
	if err != nil {
		return err
	}
	t.dtls = dtls
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Info().Str("dtls_state", s.String()).Msg("DTLS state")
		if s == webrtc.DTLSTransportStateFailed {
			t.fail(fmt.Errorf("%w: dtls failed", domain.ErrConnect))
		}
	})

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return err
	}

	t.params = core.TransportParameters{
		ID:             t.id,
		ICEParameters:  toICEParameters(iceParams),
		DTLSParameters: toDTLSParameters(dtlsParams),
	}
	for _, c := range candidates {
		t.params.ICECandidates = append(t.params.ICECandidates, toICECandidate(c))
	}
	return nil
}

func (t *WebRTCTransport) ID() string { return t.id }

func (t *WebRTCTransport) Parameters() core.TransportParameters { return t.params }

// Failed delivers the first handshake or connectivity failure after Connect.
func (t *WebRTCTransport) Failed() <-chan error { return t.failed }

func (t *WebRTCTransport) fail(err error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.failOnce.Do(func() {
		t.failed <- domain.E(domain.KindEngine, "connect transport", err)
	})
}

// Connect validates the client parameters and starts ICE and DTLS in the
// background. The client only starts its side of ICE once this returns, so
// the handshake outcome arrives later: Produce waits for it and a failure is
// delivered on Failed.
func (t *WebRTCTransport) Connect(_ context.Context, params core.ConnectParameters) error {
	remoteDTLS, err := fromDTLSParameters(params.DTLSParameters)
	if err != nil {
		return domain.E(domain.KindClient, "connect transport", err)
	}
	if params.ICEParameters.UsernameFragment == "" || params.ICEParameters.Password == "" {
		return domain.E(domain.KindClient, "connect transport",
			fmt.Errorf("%w: missing ice credentials", domain.ErrConnect))
	}
	remoteCandidates := make([]webrtc.ICECandidate, 0, len(params.ICECandidates))
	for _, c := range params.ICECandidates {
		wc, err := fromICECandidate(c)
		if err != nil {
			return domain.E(domain.KindClient, "connect transport", fmt.Errorf("%w: %w", domain.ErrConnect, err))
		}
		remoteCandidates = append(remoteCandidates, wc)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.E(domain.KindEngine, "connect transport", domain.ErrClosed)
	}
	t.mu.Unlock()

	if !t.connecting.CompareAndSwap(false, true) {
		return domain.E(domain.KindInternal, "connect transport", domain.ErrAlreadyConnected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	t.mu.Lock()
	t.stop = cancel
	t.mu.Unlock()

	go func() {
		defer cancel()
		err := t.handshake(fromICEParameters(params.ICEParameters), remoteCandidates, remoteDTLS)
		if err == nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", domain.ErrConnect, ctx.Err())
		}
		t.connErr = err
		close(t.connected)
		if err != nil {
			t.logger.Warn().Err(err).Msg("transport connect failed")
			t.fail(err)
			return
		}
		t.logger.Info().Msg("transport connected")
	}()
	go func() {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			select {
			case <-t.connected:
			default:
				t.logger.Warn().Dur("timeout", t.timeout).Msg("connect timed out, stopping ICE")
				_ = t.ice.Stop()
			}
		}
	}()
	return nil
}

func (t *WebRTCTransport) handshake(remote webrtc.ICEParameters, candidates []webrtc.ICECandidate, remoteDTLS webrtc.DTLSParameters) error {
	if len(candidates) > 0 {
		if err := t.ice.SetRemoteCandidates(candidates); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConnect, err)
		}
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, remote, &role); err != nil {
		return fmt.Errorf("%w: ice: %w", domain.ErrConnect, err)
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		return fmt.Errorf("%w: dtls: %w", domain.ErrConnect, err)
	}
	return nil
}

// waitConnected blocks until the handshake finished.
func (t *WebRTCTransport) waitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
	default:
		if !t.connecting.Load() {
			return domain.E(domain.KindClient, "produce", domain.ErrNotConnected)
		}
		select {
		case <-t.connected:
		case <-ctx.Done():
			return domain.E(domain.KindEngine, "produce", ctx.Err())
		}
	}
	if t.connErr != nil {
		return domain.E(domain.KindEngine, "produce", t.connErr)
	}
	return nil
}

func (t *WebRTCTransport) Produce(ctx context.Context, params core.ProduceParameters) (core.Producer, error) {
	kind, err := params.MediaKind()
	if err != nil {
		return nil, domain.E(domain.KindClient, "produce", err)
	}
	codec, _ := params.MediaCodec()
	rc, ok := t.router.codec(kind)
	if !ok {
		return nil, domain.E(domain.KindClient, "produce",
			fmt.Errorf("%w: router has no %s codec", domain.ErrUnsupportedCodec, kind))
	}
	if !sameCodec(codec, rc) {
		return nil, domain.E(domain.KindClient, "produce",
			fmt.Errorf("%w: producer sends %s/%d, router negotiated %s/%d",
				domain.ErrUnsupportedCodec, codec.MimeType, codec.ClockRate, rc.MimeType, rc.ClockRate))
	}

	wctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.waitConnected(wctx); err != nil {
		return nil, err
	}
	if err := t.router.registerProducerCodec(kind, codec); err != nil {
		return nil, domain.E(domain.KindClient, "produce", fmt.Errorf("%w: %w", domain.ErrUnsupportedCodec, err))
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.E(domain.KindEngine, "produce", domain.ErrClosed)
	}
	t.mu.Unlock()

	p, err := newProducer(t, kind, params)
	if err != nil {
		return nil, domain.E(domain.KindEngine, "produce", err)
	}
	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()
	return p, nil
}

func (t *WebRTCTransport) forgetProducer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *WebRTCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	stop := t.stop
	t.mu.Unlock()

	var result *multierror.Error
	for _, p := range producers {
		result = multierror.Append(result, core.CloseQuietly(p))
	}
	if stop != nil {
		stop()
	}
	if t.dtls != nil {
		result = multierror.Append(result, ignoreClosed(t.dtls.Stop()))
	}
	if t.ice != nil {
		result = multierror.Append(result, ignoreClosed(t.ice.Stop()))
	}
	if t.gatherer != nil {
		result = multierror.Append(result, ignoreClosed(t.gatherer.Close()))
	}
	if t.tcp != nil {
		result = multierror.Append(result, ignoreClosed(t.tcp.Close()))
	}
	t.router.forgetWebRTC(t.id)
	t.logger.Info().Msg("webrtc transport closed")
	return result.ErrorOrNil()
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
