// Package messaging provides the in-process publish/subscribe Topic used by
// steps to exchange records outside of the direct edges of a DAG.
//
// Three delivery models share the Topic interface:
//   - unicast: competing consumers, each record reaches exactly one subscriber
//   - broadcast: every subscriber reads the whole stream from where it joined
//   - loop: like broadcast, but the stream replays forever once completed
package messaging

import (
	"context"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Topic errors. They are kinds: compare them with errors.Is.
var (
	ErrClosedTopic           = schema.NewError(schema.ErrCodeClosedTopic, "the topic is closed")
	ErrUnknownSubscription   = schema.NewError(schema.ErrCodeUnknownSubscription, "no subscription for the subscriber")
	ErrCancelledSubscription = schema.NewError(schema.ErrCodeCancelledSubscription, "the subscription is cancelled")
	ErrCompletedTopic        = schema.NewError(schema.ErrCodeCompletedTopic, "the topic is completed")
)

// Record is an immutable value published into a Topic.
type Record[T any] struct {
	Value     T
	Timestamp time.Time
	Headers   map[string]string
}

// NewRecord wraps value into a record stamped with the current time.
func NewRecord[T any](value T) Record[T] {
	return Record[T]{Value: value, Timestamp: time.Now()}
}

// WithHeader returns a copy of the record carrying the additional header.
func (r Record[T]) WithHeader(key, value string) Record[T] {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[key] = value
	r.Headers = headers
	return r
}

// Topic is a stateful pub/sub channel. It is open until Close is called.
type Topic[T any] interface {
	// Subscribe returns the subscription of subscriberID, creating it on the
	// first call. Later calls with the same ID return the same subscription.
	Subscribe(subscriberID string) (Subscription[T], error)

	// Produce appends a record to the topic.
	Produce(ctx context.Context, record Record[T]) error

	// ProduceValue wraps value into a record and appends it.
	ProduceValue(ctx context.Context, value T) error

	// Poll blocks until a record is available for the subscriber.
	Poll(ctx context.Context, subscriberID string) (Record[T], error)

	// PollValue is Poll returning only the value.
	PollValue(ctx context.Context, subscriberID string) (T, error)

	// Cancel removes the subscription of subscriberID, if any.
	Cancel(subscriberID string)

	// Complete signals that no more values will be produced.
	Complete()

	// Close cancels all the subscriptions and rejects any further operation.
	Close()
}

// Subscription is the cursor of a single subscriber into a Topic.
type Subscription[T any] interface {
	// SubscriberID returns the identifier the subscription was created for.
	SubscriberID() string

	// Poll blocks until the next record is available.
	Poll(ctx context.Context) (Record[T], error)

	// PollValue is Poll returning only the value.
	PollValue(ctx context.Context) (T, error)

	// OnReceive consumes the subscription in a background goroutine, calling
	// fn for each record until the subscription is cancelled or ctx is done.
	// The returned channel is closed when the goroutine exits.
	OnReceive(ctx context.Context, fn func(Record[T])) <-chan struct{}

	// OnReceiveValue is OnReceive passing only the values.
	OnReceiveValue(ctx context.Context, fn func(T)) <-chan struct{}

	// Cancel stops the subscription and detaches it from its topic.
	Cancel()

	// IsActive returns false once the subscription is cancelled.
	IsActive() bool
}

var (
	_ Topic[any] = (*UnicastTopic[any])(nil)
	_ Topic[any] = (*BroadcastTopic[any])(nil)
	_ Topic[any] = (*LoopTopic[any])(nil)
)
