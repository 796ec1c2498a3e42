package session

import (
	"time"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

// outboundLeg is the plain transport and consumer relaying one kind to the
// encoder.
type outboundLeg struct {
	transport core.PlainTransport
	consumer  core.Consumer
}

// Session holds every resource of the single relay session. It is owned by
// the controller loop and never shared.
type Session struct {
	ID         string
	AudioCodec domain.Codec
	VideoCodec domain.Codec

	worker    core.Worker
	router    core.Router
	ingest    core.WebRTCTransport
	connected bool
	producers map[domain.MediaKind]core.Producer

	outbound    map[domain.MediaKind]*outboundLeg
	encoder     core.EncoderProcess
	input       *core.InputDocument
	destination string

	// quit stops the worker watcher when the session is torn down.
	quit chan struct{}
}

func newSession(id string, audio, video domain.Codec, w core.Worker, r core.Router) *Session {
	return &Session{
		ID:         id,
		AudioCodec: audio,
		VideoCodec: video,
		worker:     w,
		router:     r,
		producers:  make(map[domain.MediaKind]core.Producer),
		outbound:   make(map[domain.MediaKind]*outboundLeg),
		quit:       make(chan struct{}),
	}
}

// Kinds are the enabled media kinds: those with a producer.
func (s *Session) Kinds() []domain.MediaKind {
	var kinds []domain.MediaKind
	for _, k := range domain.MediaKinds {
		if _, ok := s.producers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Snapshot is a read-only view of the session for status reporting.
type Snapshot struct {
	SessionID   string                          `json:"sessionId,omitempty"`
	State       domain.State                    `json:"state"`
	VideoCodec  string                          `json:"videoCodec,omitempty"`
	Kinds       []domain.MediaKind              `json:"kinds"`
	IngestID    string                          `json:"ingestId,omitempty"`
	Connected   bool                            `json:"connected"`
	Producers   map[domain.MediaKind]string     `json:"producers,omitempty"`
	Consumers   map[domain.MediaKind]string     `json:"consumers,omitempty"`
	Outbound    map[domain.MediaKind]core.Tuple `json:"outbound,omitempty"`
	EncoderPID  int                             `json:"encoderPid,omitempty"`
	Destination string                          `json:"destination,omitempty"`
	UpdatedAt   time.Time                       `json:"updatedAt"`
}

func (s *Session) snapshot(state domain.State) Snapshot {
	snap := Snapshot{State: state, Kinds: []domain.MediaKind{}, UpdatedAt: time.Now()}
	if s == nil {
		return snap
	}
	snap.SessionID = s.ID
	snap.VideoCodec = s.VideoCodec.MimeType
	snap.Kinds = append(snap.Kinds, s.Kinds()...)
	snap.Connected = s.connected
	if s.ingest != nil {
		snap.IngestID = s.ingest.ID()
	}
	if len(s.producers) > 0 {
		snap.Producers = make(map[domain.MediaKind]string, len(s.producers))
		for k, p := range s.producers {
			snap.Producers[k] = p.ID()
		}
	}
	if len(s.outbound) > 0 {
		snap.Consumers = make(map[domain.MediaKind]string, len(s.outbound))
		snap.Outbound = make(map[domain.MediaKind]core.Tuple, len(s.outbound))
		for k, leg := range s.outbound {
			if leg.consumer != nil {
				snap.Consumers[k] = leg.consumer.ID()
			}
			snap.Outbound[k] = leg.transport.Tuple()
		}
	}
	if s.encoder != nil {
		snap.EncoderPID = s.encoder.PID()
		snap.Destination = s.destination
	}
	return snap
}
