package messaging

import (
	"context"
	"time"
)

// BroadcastTopic delivers every record to every subscriber. Subscribers
// joining late first read the records still retained, then the live stream.
type BroadcastTopic[T any] struct {
	topicBase[T]
	chain *chain[T]
}

// NewBroadcastTopic creates a broadcast topic retaining the bufferSize last
// records for late subscribers. A negative bufferSize retains nothing: new
// subscribers only see records produced after they subscribed.
func NewBroadcastTopic[T any](bufferSize int, idleTimeout time.Duration) *BroadcastTopic[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	c := newChain[T](bufferSize)
	t := &BroadcastTopic[T]{chain: c}
	t.init(idleTimeout, "broadcast", func() source[T] { return c.cursor() })
	return t
}

func (t *BroadcastTopic[T]) Produce(ctx context.Context, record Record[T]) error {
	if t.closed.Load() {
		return ErrClosedTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.chain.append(record)
}

func (t *BroadcastTopic[T]) ProduceValue(ctx context.Context, value T) error {
	return t.Produce(ctx, NewRecord(value))
}

// Complete rejects further productions. Subscribers keep reading the records
// left for them, then receive ErrCompletedTopic.
func (t *BroadcastTopic[T]) Complete() {
	t.chain.terminate()
}

func (t *BroadcastTopic[T]) Close() {
	if t.closeBase() {
		t.chain.terminate()
	}
}
