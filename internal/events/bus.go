package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Delivery is
// fire-and-forget: publishers never block on subscriber processing.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Envelope
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Envelope)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fan-outs the envelope to subscribers without blocking.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[env.Topic] {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
