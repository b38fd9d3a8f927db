package core

import "sync"

// Ring is a fixed-capacity drop-oldest buffer. The bridge history, the
// governance decision log and per-agent inboxes all need the same shape:
// append forever, keep the newest N. The source kept these unbounded;
// bounding them is a deliberate hardening.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int
}

// NewRing creates a ring holding at most capacity items (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % len(r.items)
	r.items[idx] = item
	if r.size < len(r.items) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.items)
	}
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Snapshot returns the retained items oldest-first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}
