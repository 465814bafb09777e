package messaging

import (
	"context"
	"time"
)

// LoopTopic retains all its records. Once completed, the chain is closed into
// a ring and every subscriber replays the records indefinitely.
type LoopTopic[T any] struct {
	topicBase[T]
	chain *chain[T]

	// completeRequested is set when Complete was called on an empty topic.
	// Guarded by chain.mu.
	completeRequested bool
}

// NewLoopTopic creates a loop topic.
func NewLoopTopic[T any](idleTimeout time.Duration) *LoopTopic[T] {
	c := newChain[T](-1)
	t := &LoopTopic[T]{chain: c}
	t.init(idleTimeout, "loop", func() source[T] { return c.cursor() })
	return t
}

func (t *LoopTopic[T]) Produce(ctx context.Context, record Record[T]) error {
	if t.closed.Load() {
		return ErrClosedTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.chain.mu.Lock()
	defer t.chain.mu.Unlock()
	if err := t.chain.appendLocked(record); err != nil {
		return err
	}
	if t.completeRequested {
		t.chain.loopLocked()
	}
	return nil
}

func (t *LoopTopic[T]) ProduceValue(ctx context.Context, value T) error {
	return t.Produce(ctx, NewRecord(value))
}

// Complete loops the tail of the records back to the first one. On an empty
// topic the loop is closed right after the next production.
func (t *LoopTopic[T]) Complete() {
	t.chain.mu.Lock()
	defer t.chain.mu.Unlock()
	if !t.chain.loopLocked() {
		t.completeRequested = true
	}
}

func (t *LoopTopic[T]) Close() {
	if t.closeBase() {
		t.chain.terminate()
	}
}
