// Package ringchan provides a bounded channel with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is dropped
// to make room. Long-running discovery and consumption loops use it so that a
// slow reader (an interactive table redraw, a plot render) cannot stall the
// BLE or broker callback feeding it.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel and guarantees sends complete without
// blocking indefinitely.
type RingChannel[T any] struct {
	ch      chan T
	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close is called.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered element if the buffer
// is full. Returns true if an element was dropped to make room.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	rc.sent.Add(1)
	return dropped
}

// TrySend attempts a non-blocking insert. Returns false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.sent.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Sent returns the total number of successful sends.
func (rc *RingChannel[T]) Sent() int64 {
	return rc.sent.Load()
}

// Dropped returns the number of elements discarded to make room for newer ones.
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Close closes the underlying channel. Sends after Close panic.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
