package core

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/relaygw/internal/domain"
)

// RelayEngine starts the media relay worker. Every call may block while the
// engine negotiates; none of them are retried by callers.
type RelayEngine interface {
	StartWorker(ctx context.Context, cfg WorkerConfig) (Worker, error)
}

// Worker owns routers. Died delivers at most one error when the worker can no
// longer serve its transports; it is never retried.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []domain.Codec) (Router, error)
	Died() <-chan error
	Close() error
}

type Router interface {
	ID() string
	Capabilities() RTPCapabilities
	CreateWebRTCTransport(ctx context.Context, opts WebRTCTransportOptions) (WebRTCTransport, error)
	CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (PlainTransport, error)
	Close() error
}

// WebRTCTransport is the inbound, browser-facing transport.
// Connect may be called once; a second call returns domain.ErrAlreadyConnected.
// Connect returns once the parameters are accepted. A handshake that fails
// afterwards is delivered once on Failed.
type WebRTCTransport interface {
	ID() string
	Parameters() TransportParameters
	Connect(ctx context.Context, params ConnectParameters) error
	Failed() <-chan error
	Produce(ctx context.Context, params ProduceParameters) (Producer, error)
	Close() error
}

// PlainTransport is a unidirectional RTP/RTCP leg toward the encoder.
type PlainTransport interface {
	ID() string
	Connect(ctx context.Context, remote RemoteAddr) error
	Tuple() Tuple
	RTCPTuple() Tuple
	// Consume always returns a paused consumer.
	Consume(ctx context.Context, producer Producer, caps RTPCapabilities) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close() error
}

type Consumer interface {
	ID() string
	Kind() domain.MediaKind
	ProducerID() string
	Paused() bool
	SSRC() uint32
	Resume(ctx context.Context) error
	Close() error
}

// Closer is satisfied by every relay handle.
type Closer interface {
	Close() error
}

// CloseQuietly closes c, tolerating nil handles and already-closed resources.
func CloseQuietly(c Closer) error {
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, domain.ErrClosed) {
		return err
	}
	return nil
}

func cutMime(mime string) (string, string, bool) {
	family, name, ok := strings.Cut(strings.ToLower(mime), "/")
	return family, name, ok
}
