package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
)

func TestFilter_Match(t *testing.T) {
	e := Event{Name: "step.s1.failed", Level: LevelWarn, Campaign: "c1", Minion: "m1"}

	assert.True(t, Filter{}.Match(e))
	assert.True(t, Filter{NamePrefixes: []string{"minion.", "step."}}.Match(e))
	assert.False(t, Filter{NamePrefixes: []string{"campaign."}}.Match(e))
	assert.False(t, Filter{MinLevel: LevelError}.Match(e))
	assert.False(t, Filter{Campaign: "c2"}.Match(e))
	assert.True(t, Filter{Campaign: "c1", Minion: "m1"}.Match(e))
	assert.False(t, Filter{Minion: "m2"}.Match(e))
}

func TestTopicLogger_Watch(t *testing.T) {
	topic := messaging.NewBroadcastTopic[Event](-1, 0)
	defer topic.Close()

	var mu sync.Mutex
	var received []string
	ctx, cancel := context.WithCancel(context.Background())
	stopped, err := Watch(ctx, topic, "observer", Filter{NamePrefixes: []string{"step."}}, func(e Event) {
		mu.Lock()
		received = append(received, e.Name)
		mu.Unlock()
	})
	require.NoError(t, err)

	logger := NewTopicLogger(topic, LevelDebug)
	logger.Log(minionContext(), LevelTrace, "step.s1.trace", nil)
	logger.Log(minionContext(), LevelInfo, "step.s1.started", nil)
	logger.Log(minionContext(), LevelInfo, "minion.started", nil)
	logger.Log(minionContext(), LevelWarn, "step.s1.failed", nil)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	mu.Lock()
	assert.Equal(t, []string{"step.s1.started", "step.s1.failed"}, received)
	mu.Unlock()
}

func TestTopicLogger_ClosedTopicDropsEvents(t *testing.T) {
	topic := messaging.NewBroadcastTopic[Event](10, 0)
	topic.Close()

	logger := NewTopicLogger(topic, LevelTrace)
	assert.NotPanics(t, func() { logger.Log(context.Background(), LevelInfo, "x", nil) })

	_, err := Watch(context.Background(), topic, "late", Filter{}, func(Event) {})
	assert.ErrorIs(t, err, messaging.ErrClosedTopic)
}
