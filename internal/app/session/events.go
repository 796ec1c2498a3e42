package session

import (
	"sync"

	"github.com/dkeye/relaygw/internal/domain"
)

type EventType string

const (
	EventState         EventType = "state"
	EventProducerReady EventType = "producer_ready"
	EventStreamWarning EventType = "stream_warning"
	EventFatal         EventType = "fatal"
)

// Event is published by the controller for signaling peers.
type Event struct {
	Type    EventType
	State   domain.State
	Kind    domain.MediaKind
	Warning string
	Err     error
}

// Broker fans events out to subscribers. Slow subscribers lose events.
type Broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
