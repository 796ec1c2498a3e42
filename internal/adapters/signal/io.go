package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

func (g *Gateway) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if g.opts.PingPeriod > 0 {
		ticker := time.NewTicker(g.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, cancel context.CancelFunc, peer core.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump closing")
		cancel()
		g.hub.Unregister(peer, c)
		g.limiter.Forget(peer)
		c.Close()
	}()

	if g.opts.PingPeriod > 0 {
		wait := g.opts.PingPeriod + g.opts.PongTimeout
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		g.handleSignal(ctx, peer, c, data)
	}
}

// handleSignal runs one frame to completion; frames of a peer are handled in order.
func (g *Gateway) handleSignal(ctx context.Context, peer core.PeerID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("bad json")
		g.sendJSON(c, errResponse(envelope{Type: "unknown"}, badPayload("decode frame", err)))
		return
	}
	if !g.limiter.Allow(peer) {
		log.Warn().Str("module", "signal").Str("peer", string(peer)).Str("type", env.Type).Msg("rate limited")
		g.sendJSON(c, errResponse(env, domain.E(domain.KindClient, env.Type, errRateLimited)))
		return
	}

	logger := log.With().Str("module", "signal").Str("peer", string(peer)).Str("type", env.Type).Logger()
	logger.Debug().Msg("signal received")

	var (
		result any
		err    error
	)
	switch env.Type {
	case MsgPing:
		g.handlePing(c, env)
		return
	case MsgStartEngine:
		result, err = g.handleStartEngine(ctx, env)
	case MsgRecvStart:
		result, err = g.handleRecvStart(ctx)
	case MsgRecvConnect:
		err = g.handleRecvConnect(ctx, env)
	case MsgRecvProduce:
		result, err = g.handleRecvProduce(ctx, env)
	case MsgStartRecording:
		err = g.handleStartRecording(ctx, env)
	case MsgStopRecording:
		err = g.ctrl.StopStream(ctx)
	default:
		logger.Warn().Msg("unknown signal")
		err = domain.E(domain.KindClient, env.Type, errUnknownType)
	}

	if err != nil {
		logger.Warn().Err(err).Str("kind", string(domain.KindOf(err))).Msg("signal failed")
		g.sendJSON(c, errResponse(env, err))
		return
	}
	if env.request() {
		g.sendJSON(c, okResponse(env, result))
	}
}

func (g *Gateway) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		g.hub.metrics.FrameDropped()
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}
