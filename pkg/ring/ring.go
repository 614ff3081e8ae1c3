// Package ring provides a fixed-capacity ring buffer for pipeline samples.
//
// [Buffer] is the rolling-window primitive used throughout the engagement
// pipeline: the newest sample evicts the oldest once capacity is reached, so
// memory stays bounded no matter how long a session runs. Consumers never see
// the backing storage — [Buffer.Snapshot] returns a point-in-time copy in
// chronological order, which keeps cross-component reads consistent even if
// the pipeline is later driven from more than one goroutine.
//
// All methods are safe for concurrent use.
package ring

import "sync"

// Buffer is a bounded FIFO ring buffer holding at most Cap elements.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // index of the oldest element
	size  int
	cap   int
}

// New creates a [Buffer] with the given capacity. Capacity values below 1 are
// raised to 1 so that a zero-configured buffer still holds the latest sample.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.cap {
		b.items[(b.head+b.size)%b.cap] = v
		b.size++
		return
	}
	// Full — overwrite the oldest slot and advance the head.
	b.items[b.head] = v
	b.head = (b.head + 1) % b.cap
}

// Len returns the number of elements currently stored.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer[T]) Cap() int {
	return b.cap
}

// Last returns the most recently pushed element. The second return value is
// false when the buffer is empty.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head+b.size-1)%b.cap], true
}

// Snapshot returns a copy of the buffer contents in insertion order (oldest
// first). Mutating the returned slice does not affect the buffer.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%b.cap]
	}
	return out
}

// Tail returns a copy of the most recent n elements in insertion order. When
// fewer than n elements are stored, all of them are returned.
func (b *Buffer[T]) Tail(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+start+i)%b.cap]
	}
	return out
}

// Clear removes all elements. Capacity is retained.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
