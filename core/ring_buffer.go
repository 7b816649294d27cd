package core

import "sync"

// RingBuffer is a bounded, concurrency-safe buffer that evicts its oldest
// element once full.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
}

// NewRingBuffer creates a buffer holding at most capacity items.
// capacity < 1 is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, overwriting the oldest one when full.
func (b *RingBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.count < len(b.items) {
		b.count++
	}
}

// Len returns the number of stored items.
func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity.
func (b *RingBuffer[T]) Cap() int {
	return len(b.items)
}

// Items returns a copy of the stored items, oldest first.
func (b *RingBuffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	start := (b.head - b.count + len(b.items)) % len(b.items)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}

// Recent returns up to limit items, newest first. limit <= 0 returns all.
func (b *RingBuffer[T]) Recent(limit int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.head - 1 - i + len(b.items)) % len(b.items)
		out = append(out, b.items[idx])
	}
	return out
}

// Last returns the newest item.
func (b *RingBuffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}

	idx := (b.head - 1 + len(b.items)) % len(b.items)
	return b.items[idx], true
}

// Clear drops all items and releases references.
func (b *RingBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.head = 0
	b.count = 0
}
