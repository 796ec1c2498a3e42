package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/relaygw/internal/domain"
)

// RelayManager owns one relay per producer. onFatal is invoked at most once,
// when a relay loop panics. A relay whose source keeps failing is dropped
// on its own.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay

	fatalOnce sync.Once
	onFatal   func(error)
	wg        sync.WaitGroup
}

func NewRelayManager(onFatal func(error)) *RelayManager {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &RelayManager{
		relays:  make(map[string]*Relay),
		onFatal: onFatal,
	}
}

// StartRelay creates a new Relay for the producer id and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, id string, src Source) *Relay {
	logger := log.With().
		Str("module", "sfu").
		Str("producer", id).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(id, src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(relay.done)

		var pc panics.Catcher
		var loopErr error
		pc.Try(func() { loopErr = relay.loop(relayCtx, &logger) })
		if rec := pc.Recovered(); rec != nil {
			logger.Error().Str("panic", fmt.Sprint(rec.Value)).Msg("relay loop panicked")
			relay.markAllDelete()
			m.fatal(fmt.Errorf("%w: %w", domain.ErrEngineDied, rec.AsError()))
			return
		}
		if loopErr != nil {
			logger.Error().Err(loopErr).Msg("relay source failing, dropping relay")
			m.mu.Lock()
			if m.relays[id] == relay {
				delete(m.relays, id)
			}
			m.mu.Unlock()
		}
	}()
	return relay
}

func (m *RelayManager) fatal(err error) {
	m.fatalOnce.Do(func() { m.onFatal(err) })
}

// AddSubscriber attaches an OutTrack to the relay of producer srcID.
func (m *RelayManager) AddSubscriber(srcID string, ot *OutTrack) error {
	m.mu.RLock()
	relay, ok := m.relays[srcID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: producer %s", domain.ErrClosed, srcID)
	}
	relay.AddOutTrack(ot)
	return nil
}

// MarkSubscriberDelete marks the OutTrack dstID of srcID as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(srcID, dstID string) {
	m.mu.RLock()
	relay, ok := m.relays[srcID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(dstID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(srcID string) {
	m.mu.Lock()
	relay, ok := m.relays[srcID]
	if ok {
		delete(m.relays, srcID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// HasRelay reports whether a relay exists for producer id.
func (m *RelayManager) HasRelay(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}

// Close stops every relay and waits for their loops. Sources must already be
// closed so blocked reads return.
func (m *RelayManager) Close() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		r.cancel()
	}
	m.wg.Wait()
}
