package signal

import (
	"sync"
	"time"

	"github.com/dkeye/relaygw/internal/core"
)

// RateLimiter is a sliding window of accepted frames per peer.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[core.PeerID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter returns nil, which allows everything, when limit or interval is zero.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &RateLimiter{
		history:  make(map[core.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(peer core.PeerID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[peer]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[peer] = fresh
		return false
	}
	rl.history[peer] = append(fresh, now)
	return true
}

// Forget drops the history of a disconnected peer.
func (rl *RateLimiter) Forget(peer core.PeerID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.history, peer)
	rl.mu.Unlock()
}
