// Package publish exposes a single immutable value that is replaced
// atomically and announces each replacement to subscribers.
package publish

import (
	"sync"
	"sync/atomic"
)

// Holder publishes successive versions of a value of type T.
//
// Readers call Current and never block. Values stored in a Holder must not be
// mutated after Store.
type Holder[T any] struct {
	cur atomic.Pointer[entry[T]]

	mu     sync.Mutex
	subs   map[uint64]chan uint64
	nextID uint64
}

type entry[T any] struct {
	value   T
	version uint64
}

// NewHolder returns a Holder whose current value is initial at version 0.
func NewHolder[T any](initial T) *Holder[T] {
	h := &Holder[T]{subs: make(map[uint64]chan uint64)}
	h.cur.Store(&entry[T]{value: initial})
	return h
}

// Current returns the latest published value.
func (h *Holder[T]) Current() T {
	return h.cur.Load().value
}

// Load returns the latest published value and its version.
func (h *Holder[T]) Load() (T, uint64) {
	e := h.cur.Load()
	return e.value, e.version
}

// Version returns the version of the latest published value.
func (h *Holder[T]) Version() uint64 {
	return h.cur.Load().version
}

// Store publishes v as version. Versions must increase; a stale version is
// ignored and Store returns false.
func (h *Holder[T]) Store(v T, version uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if version <= h.cur.Load().version {
		return false
	}
	h.cur.Store(&entry[T]{value: v, version: version})
	for _, ch := range h.subs {
		notify(ch, version)
	}
	return true
}

// notify delivers version without blocking. A subscriber that has not read
// the previous notification gets it replaced by the newer one.
func notify(ch chan uint64, version uint64) {
	select {
	case ch <- version:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- version:
	default:
	}
}

// Subscribe returns a channel receiving the version of every subsequent
// Store, collapsed to the most recent when the reader falls behind.
// The returned cancel func closes the channel.
func (h *Holder[T]) Subscribe() (<-chan uint64, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan uint64, 1)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Holder[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
