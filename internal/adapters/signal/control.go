package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

var (
	errUnknownType = errors.New("unknown message type")
	errRateLimited = errors.New("too many messages")
	errBadPayload  = errors.New("bad payload")
)

func badPayload(op string, err error) error {
	return domain.E(domain.KindClient, op, fmt.Errorf("%w: %v", errBadPayload, err))
}

// decode unmarshals the envelope data into v; empty data leaves v zeroed.
func decode(env envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return badPayload(env.Type, err)
	}
	return nil
}

func (g *Gateway) handlePing(conn *WsSignalConn, env envelope) {
	g.sendJSON(conn, response{ID: env.ID, Type: MsgPong})
}

func (g *Gateway) handleStartEngine(ctx context.Context, env envelope) (core.RTPCapabilities, error) {
	var p startEnginePayload
	if err := decode(env, &p); err != nil {
		return core.RTPCapabilities{}, err
	}
	return g.ctrl.StartEngine(ctx, p.VCodecName)
}

func (g *Gateway) handleRecvStart(ctx context.Context) (core.TransportParameters, error) {
	return g.ctrl.OpenIngest(ctx)
}

func (g *Gateway) handleRecvConnect(ctx context.Context, env envelope) error {
	var p core.ConnectParameters
	if err := decode(env, &p); err != nil {
		return err
	}
	return g.ctrl.ConnectIngest(ctx, p)
}

func (g *Gateway) handleRecvProduce(ctx context.Context, env envelope) (producedPayload, error) {
	var p core.ProduceParameters
	if err := decode(env, &p); err != nil {
		return producedPayload{}, err
	}
	id, err := g.ctrl.Produce(ctx, p)
	if err != nil {
		return producedPayload{}, err
	}
	return producedPayload{ID: id}, nil
}

func (g *Gateway) handleStartRecording(ctx context.Context, env envelope) error {
	var p startRecordingPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	return g.ctrl.StartStream(ctx, p.Destination)
}
