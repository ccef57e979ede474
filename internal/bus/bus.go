// Package bus carries in-process events between the workers, the service
// layer and the streaming surfaces.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers by kind prefix. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Safe to call on a nil or closed Bus.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers interest in kinds starting with prefix; "" matches
// everything. The returned function unregisters without closing the
// channel. The channel is closed only by Close, so readers should check
// the receive's ok flag.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Close ends every subscription by closing its channel, which lets
// long-lived streams return during shutdown. Later publishes are dropped
// silently.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
