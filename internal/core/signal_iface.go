package core

// Frame is a raw signaling payload.
type Frame []byte

// PeerID identifies one signaling connection.
type PeerID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
