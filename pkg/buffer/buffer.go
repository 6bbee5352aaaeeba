// Package buffer provides a generic, thread-safe bounded queue for the
// client's outbound send path.
//
// The queue is a fixed-capacity circular buffer with a configurable overflow
// policy. The Reject policy is the back pressure primitive: a write against a
// full buffer stores nothing and returns ErrFull, so the producer learns
// immediately that its payload was not accepted. DropOldest trades the oldest
// queued item for the new one instead. Statistics are always collected;
// Prometheus metrics are optional via WithMetrics.
package buffer

import "errors"

// ErrFull is returned by Write under the Reject policy when the buffer is at
// capacity. The new item is not stored.
var ErrFull = errors.New("buffer full")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("buffer closed")

// Buffer represents a bounded FIFO queue parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. When the buffer is full, behavior
	// depends on the overflow policy: Reject returns ErrFull without
	// storing; DropOldest evicts the oldest item and stores the new one.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek retrieves the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	// Close shuts down the buffer. Subsequent writes fail with ErrClosed.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Reject refuses new items when the buffer is full; Write returns
	// ErrFull and stores nothing. This is the back pressure default.
	Reject OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case DropOldest:
		return "DropOldest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item discarded by an overflow policy or
// by Clear.
type DropCallback[T any] func(item T)

// NewCircular creates a new circular buffer with the given capacity.
// Capacity must be at least 1. Returns an error for invalid capacity or a
// failed metrics registration.
func NewCircular[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
