package rtc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/app/sfu"
	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

type Router struct {
	id     string
	worker *Worker
	codecs []domain.Codec
	caps   core.RTPCapabilities

	// mediaMu guards codec registration against receivers being built.
	mediaMu      sync.Mutex
	media        *webrtc.MediaEngine
	interceptors *interceptor.Registry
	registered   map[webrtc.PayloadType]bool

	relays *sfu.RelayManager

	mu     sync.Mutex
	closed bool
	webrtc map[string]*WebRTCTransport
	plain  map[string]*PlainTransport
}

func newRouter(w *Worker, codecs []domain.Codec) (*Router, error) {
	if len(codecs) == 0 {
		return nil, domain.E(domain.KindConfiguration, "create router",
			fmt.Errorf("%w: empty codec list", domain.ErrUnsupportedCodec))
	}
	media := &webrtc.MediaEngine{}
	registered := make(map[webrtc.PayloadType]bool, len(codecs))
	for _, c := range codecs {
		if err := checkCodec(c); err != nil {
			return nil, domain.E(domain.KindConfiguration, "create router", err)
		}
		if err := media.RegisterCodec(routerCodec(c), codecType(c.Kind)); err != nil {
			return nil, domain.E(domain.KindEngine, "create router", err)
		}
		registered[webrtc.PayloadType(c.PayloadType)] = true
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, ir); err != nil {
		return nil, domain.E(domain.KindEngine, "create router", err)
	}

	r := &Router{
		id:           uuid.NewString(),
		worker:       w,
		codecs:       codecs,
		caps:         capabilities(codecs),
		media:        media,
		interceptors: ir,
		registered:   registered,
		webrtc:       make(map[string]*WebRTCTransport),
		plain:        make(map[string]*PlainTransport),
	}
	r.relays = sfu.NewRelayManager(w.die)
	log.Info().Str("module", "rtc").Str("router", r.id).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() core.RTPCapabilities { return r.caps }

// codec returns the router codec for kind.
func (r *Router) codec(kind domain.MediaKind) (domain.Codec, bool) {
	return r.caps.Codec(kind)
}

// sameCodec reports whether a producer codec is the router codec for its kind.
// A zero clock rate is left to the router.
func sameCodec(c core.RTPCodecParameters, rc domain.Codec) bool {
	if !strings.EqualFold(c.MimeType, rc.MimeType) {
		return false
	}
	return c.ClockRate == 0 || c.ClockRate == rc.ClockRate
}

// registerProducerCodec makes the client's payload type decodable by the
// receivers of this router.
func (r *Router) registerProducerCodec(kind domain.MediaKind, c core.RTPCodecParameters) error {
	r.mediaMu.Lock()
	defer r.mediaMu.Unlock()
	pt := webrtc.PayloadType(c.PayloadType)
	if r.registered[pt] {
		return nil
	}
	if err := r.media.RegisterCodec(producerCodec(c), codecType(kind)); err != nil {
		return err
	}
	r.registered[pt] = true
	return nil
}

// api builds a pion API for one transport. TCP candidates come from a mux
// listening next to the UDP range.
func (r *Router) api(opts core.WebRTCTransportOptions) (*webrtc.API, net.Listener, error) {
	se := webrtc.SettingEngine{LoggerFactory: r.worker.loggers}
	if err := se.SetEphemeralUDPPortRange(r.worker.cfg.RTCMinPort, r.worker.cfg.RTCMaxPort); err != nil {
		return nil, nil, err
	}

	allowed := map[string]bool{}
	var announced []string
	for _, l := range opts.ListenIPs {
		if ip := net.ParseIP(l.IP); ip != nil && !ip.IsUnspecified() {
			allowed[ip.String()] = true
		}
		if l.AnnouncedIP != "" {
			announced = append(announced, l.AnnouncedIP)
		}
	}
	if len(allowed) > 0 {
		se.SetIPFilter(func(ip net.IP) bool { return allowed[ip.String()] })
	}
	if len(announced) > 0 {
		se.SetNAT1To1IPs(announced, webrtc.ICECandidateTypeHost)
	}

	var networks []webrtc.NetworkType
	if opts.EnableUDP {
		networks = append(networks, webrtc.NetworkTypeUDP4)
	}
	var tcp net.Listener
	if opts.EnableTCP {
		host := "0.0.0.0"
		if len(opts.ListenIPs) > 0 {
			host = opts.ListenIPs[0].IP
		}
		l, err := net.Listen("tcp4", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, nil, err
		}
		tcp = l
		se.SetICETCPMux(webrtc.NewICETCPMux(r.worker.loggers.NewLogger("ice-tcp"), l, 8))
		networks = append(networks, webrtc.NetworkTypeTCP4)
	}
	if len(networks) == 0 {
		return nil, nil, fmt.Errorf("%w: neither udp nor tcp enabled", domain.ErrEngineStart)
	}
	se.SetNetworkTypes(networks)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(r.media),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(r.interceptors),
	)
	return api, tcp, nil
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts core.WebRTCTransportOptions) (core.WebRTCTransport, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	t, err := newWebRTCTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.webrtc[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CreatePlainTransport(_ context.Context, opts core.PlainTransportOptions) (core.PlainTransport, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	t, err := newPlainTransport(r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.plain[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.E(domain.KindEngine, "router "+r.id, domain.ErrClosed)
	}
	return nil
}

func (r *Router) forgetWebRTC(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.webrtc, id)
}

func (r *Router) forgetPlain(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plain, id)
}

// Close tears down outbound legs before inbound ones so relays never write
// to a closed socket.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	plain := make([]core.Closer, 0, len(r.plain))
	for _, t := range r.plain {
		plain = append(plain, t)
	}
	inbound := make([]core.Closer, 0, len(r.webrtc))
	for _, t := range r.webrtc {
		inbound = append(inbound, t)
	}
	r.mu.Unlock()

	var result *multierror.Error
	for _, c := range append(plain, inbound...) {
		result = multierror.Append(result, core.CloseQuietly(c))
	}
	r.relays.Close()
	r.worker.removeRouter(r.id)
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
	return result.ErrorOrNil()
}
