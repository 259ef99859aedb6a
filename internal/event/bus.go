package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 256

type subscriber struct {
	ch     chan Event
	accept map[Type]struct{}
}

func (s *subscriber) wants(t Type) bool {
	if len(s.accept) == 0 {
		return true
	}
	_, ok := s.accept[t]
	return ok
}

// InMemoryBus fans auth events out to in-process subscribers. Delivery is
// best effort: events are lost on restart and for slow subscribers.
type InMemoryBus struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[uint64]*subscriber
	dropped     atomic.Uint64
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[uint64]*subscriber),
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *InMemoryBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !sub.wants(e.Type) {
			continue
		}

		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

func (b *InMemoryBus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		sub.accept = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.accept[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}

	return sub.ch, unsubscribe
}

// Dropped reports how many deliveries were skipped because a subscriber
// buffer was full.
func (b *InMemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}
