package chainflow

import (
	"sync/atomic"
)

// ringBuffer is a fixed-capacity FIFO ring buffer for append-mostly
// concurrent data (run event history).
//
// Appends are lock-free: each writer atomically claims a unique slot index
// via atomic.Add, then stores the value using atomic.Value, so concurrent
// writers never touch the same slot simultaneously.
type ringBuffer[T any] struct {
	buf  []atomic.Value
	cap_ int64
	head atomic.Int64 // monotonically increasing write count
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buf:  make([]atomic.Value, capacity),
		cap_: int64(capacity),
	}
}

// Append adds v, overwriting the oldest entry when full.
func (r *ringBuffer[T]) Append(v T) {
	idx := r.head.Add(1) - 1
	r.buf[idx%r.cap_].Store(v)
}

// Snapshot returns the most recent entries in FIFO order. Pass limit <= 0
// for all available entries (up to capacity).
func (r *ringBuffer[T]) Snapshot(limit int) []T {
	total := r.head.Load()
	if total == 0 {
		return nil
	}
	size := total
	if size > r.cap_ {
		size = r.cap_
	}
	if limit > 0 && int64(limit) < size {
		size = int64(limit)
	}
	start := total - size
	result := make([]T, 0, size)
	for i := int64(0); i < size; i++ {
		v := r.buf[(start+i)%r.cap_].Load()
		if v != nil {
			result = append(result, v.(T))
		}
	}
	return result
}

// Len returns the number of entries currently stored (capped at capacity).
func (r *ringBuffer[T]) Len() int {
	total := r.head.Load()
	if total > r.cap_ {
		return int(r.cap_)
	}
	return int(total)
}
