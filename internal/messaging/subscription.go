package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// source is where a subscription reads its records from. Unicast
// subscriptions share a single source, broadcast and loop subscriptions each
// own a cursor.
type source[T any] interface {
	read(ctx context.Context, cancelled <-chan struct{}) (Record[T], error)
}

type subscription[T any] struct {
	id     string
	source source[T]

	// polling is a one-token lock serializing concurrent pollers of the same
	// subscription without making them deaf to ctx.
	polling chan struct{}

	done       chan struct{}
	cancelOnce sync.Once
	active     atomic.Bool

	idleTimeout time.Duration
	idleTimer   *time.Timer
	onCancel    func(*subscription[T])
}

func newSubscription[T any](id string, src source[T], idleTimeout time.Duration, onCancel func(*subscription[T])) *subscription[T] {
	s := &subscription[T]{
		id:          id,
		source:      src,
		polling:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		onCancel:    onCancel,
	}
	s.active.Store(true)
	if idleTimeout > 0 {
		s.idleTimer = time.AfterFunc(idleTimeout, s.Cancel)
	}
	return s
}

func (s *subscription[T]) SubscriberID() string {
	return s.id
}

func (s *subscription[T]) Poll(ctx context.Context) (Record[T], error) {
	var zero Record[T]
	if !s.IsActive() {
		return zero, ErrCancelledSubscription
	}

	select {
	case s.polling <- struct{}{}:
	case <-s.done:
		return zero, ErrCancelledSubscription
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-s.polling }()

	// A subscription blocked in a poll is not idle.
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		defer func() {
			if s.IsActive() {
				s.idleTimer.Reset(s.idleTimeout)
			}
		}()
	}

	return s.source.read(ctx, s.done)
}

func (s *subscription[T]) PollValue(ctx context.Context) (T, error) {
	record, err := s.Poll(ctx)
	return record.Value, err
}

func (s *subscription[T]) OnReceive(ctx context.Context, fn func(Record[T])) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			record, err := s.Poll(ctx)
			if err != nil {
				return
			}
			fn(record)
		}
	}()
	return exited
}

func (s *subscription[T]) OnReceiveValue(ctx context.Context, fn func(T)) <-chan struct{} {
	return s.OnReceive(ctx, func(record Record[T]) { fn(record.Value) })
}

func (s *subscription[T]) Cancel() {
	s.cancelOnce.Do(func() {
		s.active.Store(false)
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		close(s.done)
		if s.onCancel != nil {
			s.onCancel(s)
		}
	})
}

func (s *subscription[T]) IsActive() bool {
	return s.active.Load()
}
