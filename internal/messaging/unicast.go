package messaging

import (
	"context"
	"sync"
	"time"
)

// UnicastTopic delivers every record to exactly one of its subscribers: all
// the subscriptions compete on the same queue.
type UnicastTopic[T any] struct {
	topicBase[T]
	queue *queue[T]
}

// NewUnicastTopic creates a unicast topic. A positive bufferSize bounds the
// queue and makes producers wait for room, otherwise the queue is unbounded.
// Subscriptions not polled for idleTimeout are cancelled, zero disables it.
func NewUnicastTopic[T any](bufferSize int, idleTimeout time.Duration) *UnicastTopic[T] {
	q := newQueue[T](bufferSize)
	t := &UnicastTopic[T]{queue: q}
	t.init(idleTimeout, "unicast", func() source[T] { return q })
	return t
}

func (t *UnicastTopic[T]) Produce(ctx context.Context, record Record[T]) error {
	if t.closed.Load() {
		return ErrClosedTopic
	}
	return t.queue.push(ctx, record)
}

func (t *UnicastTopic[T]) ProduceValue(ctx context.Context, value T) error {
	return t.Produce(ctx, NewRecord(value))
}

// Complete rejects further productions. Pollers drain the queued records,
// then receive ErrCompletedTopic.
func (t *UnicastTopic[T]) Complete() {
	t.queue.complete()
}

func (t *UnicastTopic[T]) Close() {
	if t.closeBase() {
		t.queue.complete()
	}
}

// queue is a FIFO with blocking reads, optionally bounded.
type queue[T any] struct {
	mu        sync.Mutex
	items     []Record[T]
	capacity  int
	completed bool

	// notEmpty and notFull are replaced each time they are closed, so that
	// waiters can select on them together with their context.
	notEmpty chan struct{}
	notFull  chan struct{}
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		capacity: capacity,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}
}

func (q *queue[T]) push(ctx context.Context, record Record[T]) error {
	for {
		q.mu.Lock()
		if q.completed {
			q.mu.Unlock()
			return ErrCompletedTopic
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, record)
			close(q.notEmpty)
			q.notEmpty = make(chan struct{})
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *queue[T]) read(ctx context.Context, cancelled <-chan struct{}) (Record[T], error) {
	var zero Record[T]
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			record := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			close(q.notFull)
			q.notFull = make(chan struct{})
			q.mu.Unlock()
			return record, nil
		}
		if q.completed {
			q.mu.Unlock()
			return zero, ErrCompletedTopic
		}
		wait := q.notEmpty
		q.mu.Unlock()

		select {
		case <-wait:
		case <-cancelled:
			return zero, ErrCancelledSubscription
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *queue[T]) complete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completed {
		return
	}
	q.completed = true
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
	close(q.notFull)
	q.notFull = make(chan struct{})
}
