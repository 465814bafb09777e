package messaging

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// topicBase holds the subscription bookkeeping shared by all topic variants.
// Only the creation and removal of subscriptions take the write lock: the
// lookups of Poll and Cancel share the read lock.
type topicBase[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	closed        atomic.Bool
	idleTimeout   time.Duration
	newSource     func() source[T]
	logger        *slog.Logger
}

func (t *topicBase[T]) init(idleTimeout time.Duration, kind string, newSource func() source[T]) {
	t.subscriptions = make(map[string]*subscription[T])
	t.idleTimeout = idleTimeout
	t.newSource = newSource
	t.logger = slog.Default().With("component", "topic", "kind", kind)
}

// Subscribe returns the subscription of subscriberID, creating it if needed.
func (t *topicBase[T]) Subscribe(subscriberID string) (Subscription[T], error) {
	if t.closed.Load() {
		return nil, ErrClosedTopic
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, ErrClosedTopic
	}
	if existing, ok := t.subscriptions[subscriberID]; ok {
		return existing, nil
	}

	sub := newSubscription(subscriberID, t.newSource(), t.idleTimeout, t.detach)
	t.subscriptions[subscriberID] = sub
	t.logger.Debug("subscription created", "subscriber", subscriberID)
	return sub, nil
}

// Poll reads the next record of the subscription of subscriberID.
func (t *topicBase[T]) Poll(ctx context.Context, subscriberID string) (Record[T], error) {
	var zero Record[T]
	if t.closed.Load() {
		return zero, ErrClosedTopic
	}

	t.mu.RLock()
	sub, ok := t.subscriptions[subscriberID]
	t.mu.RUnlock()
	if !ok {
		return zero, ErrUnknownSubscription
	}

	record, err := sub.Poll(ctx)
	if err != nil && t.closed.Load() {
		return zero, ErrClosedTopic
	}
	return record, err
}

// PollValue is Poll returning only the value.
func (t *topicBase[T]) PollValue(ctx context.Context, subscriberID string) (T, error) {
	record, err := t.Poll(ctx, subscriberID)
	return record.Value, err
}

// Cancel cancels and removes the subscription of subscriberID, if any.
func (t *topicBase[T]) Cancel(subscriberID string) {
	t.mu.RLock()
	sub, ok := t.subscriptions[subscriberID]
	t.mu.RUnlock()
	if ok {
		sub.Cancel()
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (t *topicBase[T]) SubscriptionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscriptions)
}

// detach removes sub from the map unless it was already replaced.
func (t *topicBase[T]) detach(sub *subscription[T]) {
	t.mu.Lock()
	if current, ok := t.subscriptions[sub.id]; ok && current == sub {
		delete(t.subscriptions, sub.id)
	}
	t.mu.Unlock()
	t.logger.Debug("subscription cancelled", "subscriber", sub.id)
}

// closeBase marks the topic closed and cancels every subscription. It
// reports false when the topic was already closed.
func (t *topicBase[T]) closeBase() bool {
	if !t.closed.CompareAndSwap(false, true) {
		return false
	}

	t.mu.RLock()
	subs := make([]*subscription[T], 0, len(t.subscriptions))
	for _, sub := range t.subscriptions {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return true
}
