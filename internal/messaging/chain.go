package messaging

import (
	"context"
	"sync"
	"sync/atomic"
)

// chain is a linked list of set-once slots written by a single producer at a
// time and read lock-free by any number of cursors. The tail is always an
// empty slot waiting for the next record.
type chain[T any] struct {
	mu sync.Mutex
	// head is the oldest slot still referenced by the chain: the first one
	// ever when the chain is unbounded, start otherwise, so that evicted
	// slots can be collected.
	head  *Slot[Record[T]]
	tail  *Slot[Record[T]]
	size  int
	ended bool

	// start is where new cursors begin. It moves forward when the chain is
	// compacted, cursors already past it are not affected.
	start atomic.Pointer[Slot[Record[T]]]

	// maxSize bounds the records kept for new cursors, negative keeps all.
	maxSize int

	// end is closed when the chain will never grow again and is not looping.
	end chan struct{}
}

func newChain[T any](maxSize int) *chain[T] {
	first := NewSlot[Record[T]]()
	c := &chain[T]{
		head:    first,
		tail:    first,
		maxSize: maxSize,
		end:     make(chan struct{}),
	}
	c.start.Store(first)
	return c
}

func (c *chain[T]) append(record Record[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(record)
}

func (c *chain[T]) appendLocked(record Record[T]) error {
	if c.ended {
		return ErrCompletedTopic
	}
	next := NewSlot[Record[T]]()
	c.tail.setNextAndValue(next, record)
	c.tail = next
	c.size++

	if c.maxSize >= 0 {
		for c.size > c.maxSize {
			c.start.Store(c.start.Load().Next())
			c.size--
		}
		c.head = c.start.Load()
	}
	return nil
}

// terminate stops the chain: cursors reaching the tail get ErrCompletedTopic.
func (c *chain[T]) terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	close(c.end)
}

// loopLocked turns the chain into a ring by publishing a copy of the head
// into the tail, linked to the second slot. It reports false on an empty
// chain.
func (c *chain[T]) loopLocked() bool {
	if c.ended {
		return true
	}
	if c.size == 0 {
		return false
	}
	first := c.head.value
	c.tail.setNextAndValue(c.head.Next(), first)
	c.tail = nil
	c.ended = true
	return true
}

func (c *chain[T]) cursor() *cursor[T] {
	return &cursor[T]{chain: c, current: c.start.Load()}
}

// cursor is the read position of one subscription. Reads of a single cursor
// are serialized by its subscription.
type cursor[T any] struct {
	chain   *chain[T]
	current *Slot[Record[T]]
}

func (r *cursor[T]) read(ctx context.Context, cancelled <-chan struct{}) (Record[T], error) {
	var zero Record[T]
	select {
	case <-r.current.Ready():
	default:
		select {
		case <-r.current.Ready():
		case <-r.chain.end:
			// The producer may have filled the slot right before ending.
			if !r.current.IsSet() {
				return zero, ErrCompletedTopic
			}
		case <-cancelled:
			return zero, ErrCancelledSubscription
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	record := r.current.value
	r.current = r.current.Next()
	return record, nil
}
