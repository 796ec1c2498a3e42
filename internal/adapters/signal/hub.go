package signal

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/metrics"
)

// Hub tracks connected peers for broadcasts.
type Hub struct {
	mu      sync.RWMutex
	peers   map[core.PeerID]core.SignalConnection
	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{peers: make(map[core.PeerID]core.SignalConnection), metrics: m}
}

// Register binds conn to peer, closing a previous connection with the same id.
func (h *Hub) Register(peer core.PeerID, conn core.SignalConnection) {
	h.mu.Lock()
	prev := h.peers[peer]
	h.peers[peer] = conn
	n := len(h.peers)
	h.mu.Unlock()
	if prev != nil && prev != conn {
		prev.Close()
	}
	h.metrics.SetPeers(n)
}

// Unregister removes peer only while conn is still its current connection.
func (h *Hub) Unregister(peer core.PeerID, conn core.SignalConnection) {
	h.mu.Lock()
	if cur, ok := h.peers[peer]; ok && cur == conn {
		delete(h.peers, peer)
	}
	n := len(h.peers)
	h.mu.Unlock()
	h.metrics.SetPeers(n)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast sends v to every peer. Peers with a full queue miss the frame.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for peer, conn := range h.peers {
		if err := conn.TrySend(b); err != nil {
			h.metrics.FrameDropped()
			log.Warn().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("broadcast dropped")
		}
	}
}

// CloseAll disconnects every peer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[core.PeerID]core.SignalConnection)
	h.mu.Unlock()
	for _, conn := range peers {
		conn.Close()
	}
	h.metrics.SetPeers(0)
}
