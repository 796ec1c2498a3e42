package rtc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

// PlainTransport sends RTP and RTCP over two UDP sockets to fixed remote
// ports. Nothing is read back.
type PlainTransport struct {
	id     string
	router *Router
	logger zerolog.Logger

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	mu         sync.RWMutex
	closed     bool
	rtpRemote  *net.UDPAddr
	rtcpRemote *net.UDPAddr
	consumers  map[string]*Consumer
}

func newPlainTransport(r *Router, opts core.PlainTransportOptions) (*PlainTransport, error) {
	if opts.RTCPMux || opts.Comedia {
		return nil, domain.E(domain.KindConfiguration, "create plain transport",
			fmt.Errorf("%w: rtcp-mux and comedia are not supported", domain.ErrEngineStart))
	}
	ip := net.ParseIP(opts.ListenIP.IP)
	if ip == nil {
		return nil, domain.E(domain.KindConfiguration, "create plain transport",
			fmt.Errorf("%w: listen ip %q", domain.ErrEngineStart, opts.ListenIP.IP))
	}
	rtpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, domain.E(domain.KindEngine, "create plain transport", err)
	}
	rtcpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		_ = rtpConn.Close()
		return nil, domain.E(domain.KindEngine, "create plain transport", err)
	}
	t := &PlainTransport{
		id:        uuid.NewString(),
		router:    r,
		rtpConn:   rtpConn,
		rtcpConn:  rtcpConn,
		consumers: make(map[string]*Consumer),
	}
	t.logger = log.With().Str("module", "rtc").Str("transport", t.id).Logger()
	t.logger.Info().Str("local", rtpConn.LocalAddr().String()).Msg("plain transport created")
	return t, nil
}

func (t *PlainTransport) ID() string { return t.id }

func (t *PlainTransport) Connect(_ context.Context, remote core.RemoteAddr) error {
	ip := net.ParseIP(remote.IP)
	if ip == nil || remote.Port <= 0 || remote.RTCPPort <= 0 {
		return domain.E(domain.KindConfiguration, "connect plain transport",
			fmt.Errorf("%w: remote %s:%d/%d", domain.ErrConnect, remote.IP, remote.Port, remote.RTCPPort))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.E(domain.KindEngine, "connect plain transport", domain.ErrClosed)
	}
	if t.rtpRemote != nil {
		return domain.E(domain.KindInternal, "connect plain transport", domain.ErrAlreadyConnected)
	}
	t.rtpRemote = &net.UDPAddr{IP: ip, Port: remote.Port}
	t.rtcpRemote = &net.UDPAddr{IP: ip, Port: remote.RTCPPort}
	return nil
}

func tuple(conn *net.UDPConn, remote *net.UDPAddr) core.Tuple {
	local := conn.LocalAddr().(*net.UDPAddr)
	tp := core.Tuple{LocalIP: local.IP.String(), LocalPort: local.Port, Protocol: "udp"}
	if remote != nil {
		tp.RemoteIP = remote.IP.String()
		tp.RemotePort = remote.Port
	}
	return tp
}

func (t *PlainTransport) Tuple() core.Tuple {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return tuple(t.rtpConn, t.rtpRemote)
}

func (t *PlainTransport) RTCPTuple() core.Tuple {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return tuple(t.rtcpConn, t.rtcpRemote)
}

func (t *PlainTransport) writeRTP(b []byte) error {
	t.mu.RLock()
	remote, closed := t.rtpRemote, t.closed
	t.mu.RUnlock()
	if closed {
		return domain.ErrClosed
	}
	if remote == nil {
		return domain.ErrNotConnected
	}
	_, err := t.rtpConn.WriteToUDP(b, remote)
	return err
}

func (t *PlainTransport) writeRTCP(b []byte) error {
	t.mu.RLock()
	remote, closed := t.rtcpRemote, t.closed
	t.mu.RUnlock()
	if closed {
		return domain.ErrClosed
	}
	if remote == nil {
		return domain.ErrNotConnected
	}
	_, err := t.rtcpConn.WriteToUDP(b, remote)
	return err
}

// Consume attaches a paused consumer to a producer of the same router.
func (t *PlainTransport) Consume(_ context.Context, producer core.Producer, caps core.RTPCapabilities) (core.Consumer, error) {
	p, ok := producer.(*Producer)
	if !ok || p.transport.router != t.router {
		return nil, domain.E(domain.KindInternal, "consume",
			fmt.Errorf("%w: producer does not belong to this router", domain.ErrInvalidState))
	}
	codec, ok := caps.Codec(p.kind)
	if !ok {
		return nil, domain.E(domain.KindConfiguration, "consume",
			fmt.Errorf("%w: no %s codec in capabilities", domain.ErrUnsupportedCodec, p.kind))
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.E(domain.KindEngine, "consume", domain.ErrClosed)
	}
	t.mu.Unlock()

	c := newConsumer(t, p, codec)
	if err := t.router.relays.AddSubscriber(p.id, c.track); err != nil {
		return nil, domain.E(domain.KindEngine, "consume", err)
	}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	go c.reportLoop()
	return c, nil
}

func (t *PlainTransport) forgetConsumer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

func (t *PlainTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	var result *multierror.Error
	for _, c := range consumers {
		result = multierror.Append(result, core.CloseQuietly(c))
	}
	result = multierror.Append(result, ignoreClosed(t.rtpConn.Close()))
	result = multierror.Append(result, ignoreClosed(t.rtcpConn.Close()))
	t.router.forgetPlain(t.id)
	t.logger.Info().Msg("plain transport closed")
	return result.ErrorOrNil()
}
