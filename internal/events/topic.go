package events

import (
	"context"
	"strings"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
)

// TopicLogger publishes the events into a topic, so that live observers can
// follow an execution. Events are dropped when the topic rejects them.
type TopicLogger struct {
	topic    messaging.Topic[Event]
	minLevel Level
}

// NewTopicLogger publishes the events of at least minLevel into topic.
func NewTopicLogger(topic messaging.Topic[Event], minLevel Level) *TopicLogger {
	return &TopicLogger{topic: topic, minLevel: minLevel}
}

func (l *TopicLogger) Log(ctx context.Context, level Level, name string, tags Tags) {
	if level < l.minLevel {
		return
	}
	_ = l.topic.ProduceValue(ctx, NewEvent(ctx, level, name, tags))
}

// Filter selects the events delivered to a watcher. Zero values match all.
type Filter struct {
	Campaign string
	Minion   string
	// NamePrefixes keeps the events whose name starts with any of them.
	NamePrefixes []string
	MinLevel     Level
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if e.Level < f.MinLevel {
		return false
	}
	if f.Campaign != "" && f.Campaign != e.Campaign {
		return false
	}
	if f.Minion != "" && f.Minion != e.Minion {
		return false
	}
	if len(f.NamePrefixes) == 0 {
		return true
	}
	for _, p := range f.NamePrefixes {
		if strings.HasPrefix(e.Name, p) {
			return true
		}
	}
	return false
}

// Watch subscribes subscriberID to topic and calls fn with every event
// matching filter, until ctx is done or the subscription is cancelled. The
// returned channel is closed once the watcher stopped.
func Watch(ctx context.Context, topic messaging.Topic[Event], subscriberID string, filter Filter, fn func(Event)) (<-chan struct{}, error) {
	sub, err := topic.Subscribe(subscriberID)
	if err != nil {
		return nil, err
	}
	return sub.OnReceiveValue(ctx, func(e Event) {
		if filter.Match(e) {
			fn(e)
		}
	}), nil
}
