package sfu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Source is the inbound side of a relay, satisfied by *webrtc.TrackRemote.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type Relay struct {
	ID  string
	Src Source

	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(id string, src Source, cancel context.CancelFunc) *Relay {
	return &Relay{
		ID:        id,
		Src:       src,
		outTracks: make(map[string]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed once the loop returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

// maxReadErrors consecutive read failures end a relay.
const maxReadErrors = 50

// loop reads RTP packets from the source and forwards them to all OutTracks.
// A bad packet is skipped. It returns nil when the source ended or ctx was
// cancelled, and an error once the source keeps failing.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) error {
	defer r.markAllDelete()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			return nil
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			if ctx.Err() != nil || isEOF(err) {
				logger.Info().Err(err).Msg("relay source ended")
				return nil
			}
			failures++
			if failures >= maxReadErrors {
				return fmt.Errorf("%d consecutive read errors: %w", failures, err)
			}
			logger.Warn().Err(err).Int("failures", failures).Msg("relay read RTP error, skipping packet")
			continue
		}
		failures = 0
		r.forward(pkt, logger)
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, id)
		case TrackStatePaused:
		case TrackStateOk:
			if err := ot.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("out_track", id).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[ot.ID] = ot
}

func (r *Relay) OutTrack(id string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[id]
	return ot, ok
}

func (r *Relay) OutTracks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
