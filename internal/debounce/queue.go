// Package debounce coalesces bursts of same-key events into a single
// effective event per key per window.
package debounce

import (
	"container/heap"
	"time"
)

// DefaultCeilingFactor bounds how long a continuously updated key may be held,
// as a multiple of its window.
const DefaultCeilingFactor = 4

// Queue holds at most one pending value per key and releases each key once its
// window has elapsed without a newer value, or once the ceiling is reached.
//
// Keys are released in deadline order; keys with equal deadlines are released
// in first-arrival order. Queue is not safe for concurrent use.
type Queue[K comparable, V any] struct {
	ceilingFactor int
	merge         func(held, incoming V) V
	items         map[K]*item[K, V]
	order         itemHeap[K, V]
	seq           uint64
}

type item[K comparable, V any] struct {
	key      K
	val      V
	first    time.Time
	deadline time.Time
	seq      uint64
	index    int
}

// NewQueue creates a queue. merge decides which value is kept when a key is
// pushed while already pending; nil keeps the incoming value.
func NewQueue[K comparable, V any](ceilingFactor int, merge func(held, incoming V) V) *Queue[K, V] {
	if ceilingFactor < 1 {
		ceilingFactor = DefaultCeilingFactor
	}
	if merge == nil {
		merge = func(_, incoming V) V { return incoming }
	}
	return &Queue[K, V]{
		ceilingFactor: ceilingFactor,
		merge:         merge,
		items:         make(map[K]*item[K, V]),
	}
}

// Push records v for k at now. It reports whether v replaced a pending value.
func (q *Queue[K, V]) Push(k K, v V, window time.Duration, now time.Time) bool {
	if it, ok := q.items[k]; ok {
		it.val = q.merge(it.val, v)
		deadline := now.Add(window)
		if limit := it.first.Add(window * time.Duration(q.ceilingFactor)); deadline.After(limit) {
			deadline = limit
		}
		if deadline.After(it.deadline) {
			it.deadline = deadline
			heap.Fix(&q.order, it.index)
		}
		return true
	}
	q.seq++
	it := &item[K, V]{key: k, val: v, first: now, deadline: now.Add(window), seq: q.seq}
	q.items[k] = it
	heap.Push(&q.order, it)
	return false
}

// Due removes and returns every value whose deadline is at or before now.
func (q *Queue[K, V]) Due(now time.Time) []V {
	var out []V
	for len(q.order) > 0 && !q.order[0].deadline.After(now) {
		it := heap.Pop(&q.order).(*item[K, V])
		delete(q.items, it.key)
		out = append(out, it.val)
	}
	return out
}

// Next returns the earliest pending deadline.
func (q *Queue[K, V]) Next() (time.Time, bool) {
	if len(q.order) == 0 {
		return time.Time{}, false
	}
	return q.order[0].deadline, true
}

// Flush removes and returns every pending value in release order.
func (q *Queue[K, V]) Flush() []V {
	out := make([]V, 0, len(q.order))
	for len(q.order) > 0 {
		it := heap.Pop(&q.order).(*item[K, V])
		delete(q.items, it.key)
		out = append(out, it.val)
	}
	return out
}

// Drop discards pending values whose key matches and returns how many were dropped.
func (q *Queue[K, V]) Drop(match func(K) bool) int {
	n := 0
	for k, it := range q.items {
		if !match(k) {
			continue
		}
		heap.Remove(&q.order, it.index)
		delete(q.items, k)
		n++
	}
	return n
}

// Len returns the number of pending keys.
func (q *Queue[K, V]) Len() int {
	return len(q.items)
}

type itemHeap[K comparable, V any] []*item[K, V]

func (h itemHeap[K, V]) Len() int { return len(h) }

func (h itemHeap[K, V]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h itemHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[K, V]) Push(x any) {
	it := x.(*item[K, V])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
