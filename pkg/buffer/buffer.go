// Package buffer provides a thread-safe circular buffer with configurable
// overflow policies. The gateway uses it to decouple raw frame reception from
// frame processing so a slow handler never blocks the read loop.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
)

// OverflowPolicy determines behavior when the buffer is full
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item
	DropNewest
)

// Stats tracks buffer activity counters. All fields are safe for concurrent
// reads via the atomic accessors.
type Stats struct {
	writes  atomic.Int64
	reads   atomic.Int64
	dropped atomic.Int64
}

// Writes returns the total number of accepted writes.
func (s *Stats) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of successful reads.
func (s *Stats) Reads() int64 { return s.reads.Load() }

// Dropped returns the total number of items lost to overflow.
func (s *Stats) Dropped() int64 { return s.dropped.Load() }

// Option configures a Buffer.
type Option[T any] func(*Buffer[T])

// WithOverflowPolicy sets the policy applied when the buffer is full.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(b *Buffer[T]) {
		b.policy = policy
	}
}

// WithDropCallback registers a callback invoked with every item lost to
// overflow. The callback runs outside the buffer lock.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(b *Buffer[T]) {
		b.dropCallback = fn
	}
}

// Buffer is a fixed-capacity circular buffer for items of type T.
type Buffer[T any] struct {
	mu           sync.RWMutex
	items        []T
	capacity     int
	size         int
	head         int // next write position
	tail         int // next read position
	closed       bool
	policy       OverflowPolicy
	dropCallback func(T)
	stats        Stats
}

// New creates a circular buffer with the given capacity.
func New[T any](capacity int, opts ...Option[T]) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Buffer", "New", "capacity must be positive")
	}

	b := &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (b *Buffer[T]) Write(item T) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	var haveDropped bool

	if b.size == b.capacity {
		switch b.policy {
		case DropOldest:
			dropped = b.items[b.tail]
			haveDropped = true
			b.tail = (b.tail + 1) % b.capacity
			b.size--
			b.stats.dropped.Add(1)
		case DropNewest:
			b.stats.dropped.Add(1)
			b.mu.Unlock()
			if b.dropCallback != nil {
				b.dropCallback(item)
			}
			return nil
		}
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.size++
	b.stats.writes.Add(1)
	b.mu.Unlock()

	if haveDropped && b.dropCallback != nil {
		b.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes one item from the buffer.
func (b *Buffer[T]) Read() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}

	item := b.items[b.tail]
	b.items[b.tail] = zero // clear for GC
	b.tail = (b.tail + 1) % b.capacity
	b.size--
	b.stats.reads.Add(1)
	return item, true
}

// Size returns the current number of items in the buffer.
func (b *Buffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Stats returns the buffer's activity counters.
func (b *Buffer[T]) Stats() *Stats {
	return &b.stats
}

// Close marks the buffer closed. Pending items remain readable; further
// writes fail.
func (b *Buffer[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
