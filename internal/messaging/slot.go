package messaging

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot is a set-once cell: it can be written a single time and read any
// number of times. Readers block until the value is set.
//
// Slots can be chained: the writer links the following slot before setting
// the value, so a reader that observed the value always finds Next.
type Slot[T any] struct {
	once  sync.Once
	ready chan struct{}
	value T
	next  atomic.Pointer[Slot[T]]
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ready: make(chan struct{})}
}

// Set stores value if the slot is still empty and reports whether it did.
func (s *Slot[T]) Set(value T) bool {
	set := false
	s.once.Do(func() {
		s.value = value
		close(s.ready)
		set = true
	})
	return set
}

// IsSet reports whether a value was stored, without blocking.
func (s *Slot[T]) IsSet() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Ready returns a channel closed once the value is set.
func (s *Slot[T]) Ready() <-chan struct{} {
	return s.ready
}

// Get blocks until the value is set or ctx is done.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-s.ready:
		return s.value, nil
	default:
	}
	select {
	case <-s.ready:
		return s.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Next returns the slot chained after this one, nil if none.
func (s *Slot[T]) Next() *Slot[T] {
	return s.next.Load()
}

// setNextAndValue links next then publishes value.
func (s *Slot[T]) setNextAndValue(next *Slot[T], value T) bool {
	if s.IsSet() {
		return false
	}
	s.next.Store(next)
	return s.Set(value)
}
