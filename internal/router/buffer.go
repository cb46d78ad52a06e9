package router

import (
	"sync"
)

// GrowableBuffer is an unbounded, thread-safe FIFO. Send never blocks; the
// backing ring doubles when it fills up.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next read
	count  int
	closed bool
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		ring: make([]T, initialCapacity),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.ring) {
		b.grow()
	}

	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++

	b.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available. It returns false once the buffer is closed and drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive removes and returns the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Close stops further sends. Receivers drain what is left and then get
// false.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// pop must be called with the lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	var zero T
	item := b.ring[b.head]
	b.ring[b.head] = zero // release reference
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return item
}

// grow must be called with the lock held.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, len(b.ring)*2)
	n := copy(next, b.ring[b.head:])
	copy(next[n:], b.ring[:b.head])

	b.ring = next
	b.head = 0
}
