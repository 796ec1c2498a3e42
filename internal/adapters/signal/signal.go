package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/app/session"
	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/metrics"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SessionController is the part of the session controller driven by peers.
type SessionController interface {
	StartEngine(ctx context.Context, videoCodec string) (core.RTPCapabilities, error)
	OpenIngest(ctx context.Context) (core.TransportParameters, error)
	ConnectIngest(ctx context.Context, params core.ConnectParameters) error
	Produce(ctx context.Context, params core.ProduceParameters) (string, error)
	StartStream(ctx context.Context, destination string) error
	StopStream(ctx context.Context) error
	Subscribe(buffer int) (<-chan session.Event, func())
}

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

const writeWait = 5 * time.Second

// Gateway serves the signaling WebSocket and relays controller events to peers.
type Gateway struct {
	ctrl    SessionController
	hub     *Hub
	opts    Options
	limiter *RateLimiter

	upgrader websocket.Upgrader
}

func NewGateway(ctrl SessionController, opts Options, m *metrics.Metrics) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	return &Gateway{
		ctrl:    ctrl,
		hub:     NewHub(m),
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Run forwards controller events to every peer until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	events, cancel := g.ctrl.Subscribe(64)
	defer cancel()
	defer g.hub.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.broadcastEvent(ev)
		}
	}
}

func (g *Gateway) broadcastEvent(ev session.Event) {
	switch ev.Type {
	case session.EventProducerReady:
		g.hub.Broadcast(response{Type: MsgProducerReady, Data: ev.Kind})
	case session.EventState:
		g.hub.Broadcast(response{Type: MsgStreamState, Data: streamState{State: ev.State}})
	case session.EventStreamWarning:
		g.hub.Broadcast(response{Type: MsgStreamState, Data: streamState{State: ev.State, Warning: ev.Warning}})
	case session.EventFatal:
		g.hub.Broadcast(response{Type: MsgStreamState, Data: streamState{State: ev.State, Error: toErrorBody(ev.Err)}})
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and serves the peer until it disconnects
// or ctx is done.
func (g *Gateway) HandleSignal(ctx context.Context, c *gin.Context) {
	peer := core.PeerID(c.GetString("client_token"))
	if peer == "" {
		peer = core.PeerID(uuid.NewString())
	}
	logger := log.With().Str("module", "signal").Str("peer", string(peer)).Logger()
	logger.Info().Msg("new WS connection")

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(g.opts.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, g.opts.SendBuffer),
	}
	g.hub.Register(peer, conn)

	ctx, cancel := context.WithCancel(ctx)
	go g.writePump(ctx, conn)
	go g.readPump(ctx, cancel, peer, conn)
}
