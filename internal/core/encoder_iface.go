package core

import (
	"context"
	"syscall"

	"github.com/dkeye/relaygw/internal/domain"
)

// EncoderSupervisor spawns and supervises the external encoder subprocess.
type EncoderSupervisor interface {
	Preflight(ctx context.Context) error
	Spawn(ctx context.Context, req SpawnRequest) (EncoderProcess, error)
}

type SpawnRequest struct {
	Input       string
	Destination string
}

// EncoderProcess is the handle of a running encoder.
type EncoderProcess interface {
	PID() int
	// Ready is closed once the encoder is considered able to receive input.
	Ready() <-chan struct{}
	// WaitReady blocks until Ready, exit, or the readiness timeout.
	WaitReady(ctx context.Context) error
	// Done is closed after the process exited and its streams were released.
	Done() <-chan struct{}
	// Exit is valid after Done is closed.
	Exit() ExitStatus
	// Stop sends a graceful interrupt; it never kills.
	Stop() error
	Kill() error
}

// ExitStatus is the terminal state of the encoder.
type ExitStatus struct {
	Code          int
	Signal        syscall.Signal
	StopRequested bool
	Killed        bool
	Err           error
}

// Clean reports exits that follow our own stop request, an interrupt, or a
// zero code. A forced kill is never clean.
func (e ExitStatus) Clean() bool {
	switch {
	case e.Killed:
		return false
	case e.StopRequested:
		return true
	case e.Signal == syscall.SIGINT:
		return true
	case e.Signal == 0 && e.Code == 0 && e.Err == nil:
		return true
	}
	return false
}

func (e ExitStatus) SignalName() string {
	if e.Signal == 0 {
		return ""
	}
	return e.Signal.String()
}

// InputRequest selects the session-description document the encoder reads.
type InputRequest struct {
	AudioCodec domain.Codec
	VideoCodec domain.Codec
	Kinds      []domain.MediaKind
}

// InputDocument is a resolved input path plus its cleanup.
type InputDocument struct {
	Path    string
	Cleanup func() error
}

type InputProvider interface {
	Input(ctx context.Context, req InputRequest) (InputDocument, error)
}
