package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStatePaused
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStatePaused:
		return "paused"
	case TrackStateDelete:
		return "delete"
	}
	return "unknown"
}

// Sink receives packets forwarded by a relay. Packets are shared between
// sinks and must not be modified.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
}

// OutTrack is a single outgoing leg of a relay. It starts paused.
type OutTrack struct {
	ID    string
	Sink  Sink
	state atomic.Int32
}

func NewOutTrack(id string, sink Sink) *OutTrack {
	ot := &OutTrack{ID: id, Sink: sink}
	ot.state.Store(int32(TrackStatePaused))
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// MarkOk resumes forwarding unless the track is already marked for delete.
func (ot *OutTrack) MarkOk() bool {
	return ot.state.CompareAndSwap(int32(TrackStatePaused), int32(TrackStateOk)) ||
		ot.GetState() == TrackStateOk
}

func (ot *OutTrack) MarkPaused() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStatePaused))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
