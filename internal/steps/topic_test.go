package steps

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func newTestTopics(t *testing.T) *Topics {
	t.Helper()
	topics := NewTopics()
	t.Cleanup(topics.CloseAll)
	return topics
}

func TestTopics_Declare(t *testing.T) {
	topics := newTestTopics(t)

	broadcast, err := topics.Declare(schema.TopicDefinition{Name: "events"})
	require.NoError(t, err)
	assert.IsType(t, &messaging.BroadcastTopic[any]{}, broadcast)

	unicast, err := topics.Declare(schema.TopicDefinition{Name: "jobs", Kind: schema.TopicUnicast, Buffer: 4})
	require.NoError(t, err)
	assert.IsType(t, &messaging.UnicastTopic[any]{}, unicast)

	loop, err := topics.Declare(schema.TopicDefinition{Name: "accounts", Kind: schema.TopicLoop, IdleTimeout: "1m"})
	require.NoError(t, err)
	assert.IsType(t, &messaging.LoopTopic[any]{}, loop)

	got, err := topics.Get("jobs")
	require.NoError(t, err)
	assert.Same(t, unicast, got)
	assert.Equal(t, []string{"accounts", "events", "jobs"}, topics.Names())
}

func TestTopics_DeclareErrors(t *testing.T) {
	topics := newTestTopics(t)
	_, err := topics.Declare(schema.TopicDefinition{Name: "t"})
	require.NoError(t, err)

	tests := []struct {
		name string
		def  schema.TopicDefinition
		code string
	}{
		{"duplicate", schema.TopicDefinition{Name: "t"}, schema.ErrCodeConflict},
		{"no name", schema.TopicDefinition{}, schema.ErrCodeValidation},
		{"unknown kind", schema.TopicDefinition{Name: "x", Kind: "multicast"}, schema.ErrCodeValidation},
		{"invalid idle timeout", schema.TopicDefinition{Name: "y", IdleTimeout: "never"}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := topics.Declare(tt.def)
			var engErr *schema.EngineError
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, tt.code, engErr.Code)
		})
	}

	_, err = topics.Get("missing")
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestTopicSteps_ExchangeBetweenDAGs(t *testing.T) {
	topics := newTestTopics(t)
	forwarded := newCollector("forwarded")
	consumed := newCollector("consumed")

	def := &schema.ScenarioDefinition{
		Name:   "exchange",
		Topics: []schema.TopicDefinition{{Name: "numbers", Buffer: 100}},
		DAGs: []schema.DAGDefinition{
			{ID: "producer", Singleton: true, Steps: []schema.StepDefinition{
				{ID: "source", Kind: KindRange, Params: map[string]any{"count": 5}, Next: []string{"publish"}},
				{ID: "publish", Kind: KindTopicProduce, Params: map[string]any{"topic": "numbers"}, Next: []string{"forwarded"}},
				{ID: "forwarded", Kind: "collect"},
			}},
			{ID: "consumer", Steps: []schema.StepDefinition{
				{ID: "subscribe", Kind: KindTopicConsume, Params: map[string]any{"topic": "numbers", "max": 5}, Next: []string{"consumed"}},
				{ID: "consumed", Kind: "collect"},
			}},
		},
	}
	scenario, err := Build(testContext(t), def, registryWith(t, forwarded, consumed), Services{Topics: topics})
	require.NoError(t, err)
	runScenario(t, scenario)

	want := []any{int64(0), int64(1), int64(2), int64(3), int64(4)}
	assert.ElementsMatch(t, want, forwarded.received())
	assert.ElementsMatch(t, want, consumed.received())
}

func TestTopicConsumerStep_StopsWhenTopicCompleted(t *testing.T) {
	topics := newTestTopics(t)
	topic, err := topics.Declare(schema.TopicDefinition{Name: "jobs", Kind: schema.TopicUnicast})
	require.NoError(t, err)

	ctx := testContext(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, topic.ProduceValue(ctx, i))
	}
	topics.CompleteAll()

	sink := newCollector("sink")
	buildAndRun(t, registryWith(t, sink), Services{Topics: topics},
		schema.StepDefinition{ID: "subscribe", Kind: KindTopicConsume, Params: map[string]any{"topic": "jobs"}, Next: []string{"sink"}},
		schema.StepDefinition{ID: "sink", Kind: "collect"},
	)
	assert.ElementsMatch(t, []any{0, 1, 2}, sink.received())
}

func TestTopicConsumerStep_OutlivesItsTimeout(t *testing.T) {
	topics := newTestTopics(t)
	topic, err := topics.Declare(schema.TopicDefinition{Name: "late", Kind: schema.TopicUnicast})
	require.NoError(t, err)

	ctx := testContext(t)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		_ = topic.ProduceValue(ctx, "late value")
		topic.Complete()
	}()
	t.Cleanup(wg.Wait)

	sink := newCollector("sink")
	buildAndRun(t, registryWith(t, sink), Services{Topics: topics},
		schema.StepDefinition{ID: "subscribe", Kind: KindTopicConsume, Params: map[string]any{"topic": "late"}, Timeout: "10ms", Next: []string{"sink"}},
		schema.StepDefinition{ID: "sink", Kind: "collect"},
	)
	assert.Equal(t, []any{"late value"}, sink.received())
}

func TestTopicProducerStep_SetsMinionHeader(t *testing.T) {
	topics := newTestTopics(t)
	topic, err := topics.Declare(schema.TopicDefinition{Name: "t", Buffer: 10})
	require.NoError(t, err)
	sub, err := topic.Subscribe("observer")
	require.NoError(t, err)

	buildAndRun(t, NewBuiltinRegistry(), Services{Topics: topics},
		schema.StepDefinition{ID: "source", Kind: KindRange, Params: map[string]any{"count": 1}, Next: []string{"publish"}},
		schema.StepDefinition{ID: "publish", Kind: KindTopicProduce, Params: map[string]any{"topic": "t"}},
	)

	record, err := sub.Poll(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.Value)
	assert.Equal(t, "minion-1", record.Headers[HeaderMinion])
}

func TestTopicSteps_UndeclaredTopic(t *testing.T) {
	_, err := newTopicConsumerStep(schema.StepDefinition{ID: "c", Params: map[string]any{"topic": "nope"}}, Services{}.withDefaults())
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
	assert.Equal(t, "c", engErr.StepID)

	_, err = newTopicProducerStep(schema.StepDefinition{ID: "p"}, Services{}.withDefaults())
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}
