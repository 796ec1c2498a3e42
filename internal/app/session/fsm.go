package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/dkeye/relaygw/internal/domain"
)

const (
	evStartEngine   = "start_engine"
	evOpenIngest    = "open_ingest"
	evConnectIngest = "connect_ingest"
	evProduce       = "produce"
	evStartStream   = "start_stream"
	evStreamReady   = "stream_ready"
	evStreamFailed  = "stream_failed"
	evStopStream    = "stop_stream"
	evStreamStopped = "stream_stopped"
)

func states(ss ...domain.State) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func newMachine(onEnter func(domain.State)) *fsm.FSM {
	return fsm.NewFSM(
		string(domain.StateIdle),
		fsm.Events{
			{Name: evStartEngine, Src: states(domain.States...), Dst: string(domain.StateEngineReady)},
			{Name: evOpenIngest, Src: states(domain.StateEngineReady, domain.StateIngestReady, domain.StateProducing), Dst: string(domain.StateIngestReady)},
			{Name: evConnectIngest, Src: states(domain.StateIngestReady), Dst: string(domain.StateProducing)},
			{Name: evProduce, Src: states(domain.StateProducing), Dst: string(domain.StateProducing)},
			{Name: evStartStream, Src: states(domain.StateProducing), Dst: string(domain.StateStreamStarting)},
			{Name: evStreamReady, Src: states(domain.StateStreamStarting), Dst: string(domain.StateStreaming)},
			{Name: evStreamFailed, Src: states(domain.StateStreamStarting, domain.StateStreaming), Dst: string(domain.StateProducing)},
			{Name: evStopStream, Src: states(domain.StateStreaming), Dst: string(domain.StateStopping)},
			{Name: evStreamStopped, Src: states(domain.StateStopping, domain.StateStreaming), Dst: string(domain.StateProducing)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(domain.State(e.Dst))
			},
		},
	)
}

// fire runs event, treating a self transition as success.
func fire(ctx context.Context, m *fsm.FSM, event string) error {
	err := m.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return domain.E(domain.KindInternal, event, fmt.Errorf("%w: %w", domain.ErrInvalidState, err))
}

// guard rejects event in the current state without side effects.
func guard(m *fsm.FSM, event string) error {
	if m.Can(event) {
		return nil
	}
	return domain.E(domain.KindClient, event,
		fmt.Errorf("%w: %s not allowed in %s", domain.ErrInvalidState, event, m.Current()))
}
