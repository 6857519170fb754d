package monitor

import "sync"

// RingBuffer is a fixed-capacity FIFO buffer. Once full, each write evicts the oldest entry.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
	head     int // index where the next write goes once full
	total    int64
}

// NewRingBuffer creates a ring buffer holding at most capacity entries.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// WriteOne appends an entry, evicting the oldest when at capacity.
func (rb *RingBuffer[T]) WriteOne(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) < rb.capacity {
		rb.entries = append(rb.entries, entry)
	} else {
		rb.entries[rb.head] = entry
	}
	rb.head = (rb.head + 1) % rb.capacity
	rb.total++
}

// ReadAll returns the retained entries, oldest first.
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if len(rb.entries) == 0 {
		return nil
	}
	result := make([]T, len(rb.entries))
	if len(rb.entries) < rb.capacity {
		copy(result, rb.entries)
	} else {
		n := copy(result, rb.entries[rb.head:])
		copy(result[n:], rb.entries[:rb.head])
	}
	return result
}

// Len is the number of retained entries.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// TotalAdded counts every write, including evicted ones.
func (rb *RingBuffer[T]) TotalAdded() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// Clear drops all entries.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries = rb.entries[:0]
	rb.head = 0
}
