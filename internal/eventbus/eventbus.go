// Package eventbus fans in-process domain events out to subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Event is any value published on the bus. Concrete types live in
// core/events.
type Event interface{}

// Filter selects the events delivered to a subscriber.
type Filter func(Event) bool

// EventBus is the publish side used by the domain services and the
// subscribe side used by collectors and tools.
type EventBus interface {
	Publish(Event)
	// Subscribe returns a channel receiving the events accepted by every
	// filter. Without filters all events are delivered.
	Subscribe(filters ...Filter) <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// DefaultBuffer is the per-subscriber channel capacity used by New.
const DefaultBuffer = 64

type subscriber struct {
	ch      chan Event
	filters []Filter
}

func (s subscriber) accepts(e Event) bool {
	for _, f := range s.filters {
		if f != nil && !f(e) {
			return false
		}
	}
	return true
}

// Bus is the in-memory EventBus. Publish never blocks: an event for a full
// subscriber is dropped and counted, so a slow collector cannot stall
// message handling.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscriber
	closed  bool
	buffer  int
	dropped atomic.Uint64
}

// New creates a Bus with DefaultBuffer capacity per subscriber.
func New() *Bus { return NewWithBuffer(DefaultBuffer) }

// NewWithBuffer creates a Bus whose subscriber channels hold size events.
func NewWithBuffer(size int) *Bus {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Bus{buffer: size}
}

// Publish delivers e to every subscriber whose filters accept it.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.accepts(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe implements EventBus. Subscribing to a closed bus returns a
// closed channel.
func (b *Bus) Subscribe(filters ...Filter) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscriber{ch: ch, filters: filters})
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// OfType accepts events whose dynamic type is T.
func OfType[T any]() Filter {
	return func(e Event) bool {
		_, ok := e.(T)
		return ok
	}
}
