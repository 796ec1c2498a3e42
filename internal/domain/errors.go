package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the outcome class reported to signaling clients.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindEngine        ErrorKind = "engine"
	KindSubprocess    ErrorKind = "subprocess"
	KindClient        ErrorKind = "client"
	KindInternal      ErrorKind = "internal"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrEngineStart      = errors.New("relay engine failed to start")
	ErrEngineDied       = errors.New("relay engine worker died")
	ErrConnect          = errors.New("transport connect failed")
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrNotConnected     = errors.New("transport not connected")
	ErrClosed           = errors.New("resource closed")
	ErrNoProducers      = errors.New("no producers")
	ErrInvalidState     = errors.New("invalid session state")
	ErrVersion          = errors.New("unsupported encoder version")
	ErrStartFailed      = errors.New("encoder start failed")
	ErrBadInput         = errors.New("invalid session description")
)

// Error carries the outcome kind alongside the failing operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err as kind unless it is already a *Error.
func E(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
