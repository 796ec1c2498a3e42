package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/relaygw/internal/domain"
)

const (
	MsgStartEngine    = "START_MEDIASOUP"
	MsgRecvStart      = "WEBRTC_RECV_START"
	MsgRecvConnect    = "WEBRTC_RECV_CONNECT"
	MsgRecvProduce    = "WEBRTC_RECV_PRODUCE"
	MsgProducerReady  = "WEBRTC_RECV_PRODUCER_READY"
	MsgStartRecording = "START_RECORDING"
	MsgStopRecording  = "STOP_RECORDING"
	MsgStreamState    = "STREAM_STATE"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgError          = "error"
)

// envelope is every client frame. Frames carrying an id are requests and
// always get a response; frames without one are events.
type envelope struct {
	ID   *int64          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e envelope) request() bool { return e.ID != nil }

type response struct {
	ID    *int64     `json:"id,omitempty"`
	Type  string     `json:"type"`
	OK    *bool      `json:"ok,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type streamState struct {
	State   domain.State `json:"state"`
	Warning string       `json:"warning,omitempty"`
	Error   *errorBody   `json:"error,omitempty"`
}

type startEnginePayload struct {
	VCodecName string `json:"vCodecName"`
}

type startRecordingPayload struct {
	Destination string `json:"destination,omitempty"`
}

type producedPayload struct {
	ID string `json:"id"`
}

var errInternal = errors.New("internal error")

// toErrorBody only exposes classified errors; anything else is reported as
// an opaque internal error.
func toErrorBody(err error) *errorBody {
	var de *domain.Error
	if errors.As(err, &de) {
		return &errorBody{Kind: de.Kind, Message: de.Error()}
	}
	return &errorBody{Kind: domain.KindInternal, Message: errInternal.Error()}
}

func okResponse(env envelope, data any) response {
	ok := true
	return response{ID: env.ID, Type: env.Type, OK: &ok, Data: data}
}

// errResponse answers a failed request, or reports a failed event with an
// error frame.
func errResponse(env envelope, err error) response {
	if !env.request() {
		return response{Type: MsgError, Data: env.Type, Error: toErrorBody(err)}
	}
	ok := false
	return response{ID: env.ID, Type: env.Type, OK: &ok, Error: toErrorBody(err)}
}
