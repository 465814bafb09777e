package steps

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

const (
	producerParamsSchema = `{
  "type": "object",
  "required": ["topic"],
  "properties": {
    "topic": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

	consumerParamsSchema = `{
  "type": "object",
  "required": ["topic"],
  "properties": {
    "topic": { "type": "string", "minLength": 1 },
    "max": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`
)

// HeaderMinion is the record header carrying the ID of the producing minion.
const HeaderMinion = "minion"

// Topics holds the named topics of a scenario.
type Topics struct {
	mu     sync.RWMutex
	topics map[string]messaging.Topic[any]
}

// NewTopics creates an empty set of topics.
func NewTopics() *Topics {
	return &Topics{topics: make(map[string]messaging.Topic[any])}
}

// Declare creates the topic described by def. The kind defaults to broadcast.
func (t *Topics) Declare(def schema.TopicDefinition) (messaging.Topic[any], error) {
	if def.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "topic name is empty")
	}
	idle, err := schema.ParseDuration(def.IdleTimeout)
	if err != nil {
		return nil, err
	}

	var topic messaging.Topic[any]
	switch def.Kind {
	case schema.TopicBroadcast, "":
		topic = messaging.NewBroadcastTopic[any](def.Buffer, idle)
	case schema.TopicUnicast:
		topic = messaging.NewUnicastTopic[any](def.Buffer, idle)
	case schema.TopicLoop:
		topic = messaging.NewLoopTopic[any](idle)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "topic %q has unknown kind %q", def.Name, def.Kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.topics[def.Name]; exists {
		topic.Close()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "topic %q already declared", def.Name)
	}
	t.topics[def.Name] = topic
	return topic, nil
}

// Get returns the topic declared under name.
func (t *Topics) Get(name string) (messaging.Topic[any], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	topic, ok := t.topics[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "topic %q not declared", name)
	}
	return topic, nil
}

// Names returns the names of the declared topics, sorted.
func (t *Topics) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.topics))
	for name := range t.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompleteAll signals to the consumers of every topic that no more records
// will be produced.
func (t *Topics) CompleteAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, topic := range t.topics {
		topic.Complete()
	}
}

// CloseAll closes every topic.
func (t *Topics) CloseAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, topic := range t.topics {
		topic.Close()
	}
}

// TopicProducerStep publishes each input into a topic, then forwards it.
type TopicProducerStep struct {
	engine.BaseStep
	topic messaging.Topic[any]
}

// NewTopicProducerStep creates a TopicProducerStep.
func NewTopicProducerStep(id string, topic messaging.Topic[any]) *TopicProducerStep {
	return &TopicProducerStep{BaseStep: engine.NewBaseStep(id, nil), topic: topic}
}

func (s *TopicProducerStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	input, err := sc.Receive()
	if err != nil {
		return err
	}
	if err := s.topic.Produce(ctx, messaging.NewRecord(input).WithHeader(HeaderMinion, sc.MinionID)); err != nil {
		return err
	}
	return sc.Send(ctx, input)
}

// TopicConsumerStep subscribes the minion to a topic and sends the consumed
// values to the next steps, until the topic is completed or max values were
// consumed. The consumption runs as a task of the minion after Execute
// returned, which closes the output once done.
type TopicConsumerStep struct {
	engine.BaseStep
	topic messaging.Topic[any]
	max   int64
}

// NewTopicConsumerStep creates a TopicConsumerStep. max <= 0 consumes until
// the topic is completed.
func NewTopicConsumerStep(id string, topic messaging.Topic[any], limit int64) *TopicConsumerStep {
	return &TopicConsumerStep{BaseStep: engine.NewBaseStep(id, nil), topic: topic, max: limit}
}

func (s *TopicConsumerStep) KeepsOutputOpen() bool { return true }

// subscriberID gives each minion its own cursor, distinct for every
// consuming step.
func (s *TopicConsumerStep) subscriberID(sc *engine.StepContext) string {
	return sc.MinionID + "/" + s.ID()
}

func (s *TopicConsumerStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	if _, err := sc.Receive(); err != nil {
		return err
	}
	sub, err := s.topic.Subscribe(s.subscriberID(sc))
	if err != nil {
		return err
	}

	// The consumption outlives the execution, and its timeout if any.
	taskCtx := ctx
	if m := engine.MinionFrom(ctx); m != nil {
		taskCtx = m.Context()
	}
	err = engine.Launch(taskCtx, func(ctx context.Context) error {
		defer sc.CloseOutput()
		defer sub.Cancel()
		return s.consume(ctx, sub, sc)
	})
	if err != nil {
		sub.Cancel()
	}
	return err
}

func (s *TopicConsumerStep) consume(ctx context.Context, sub messaging.Subscription[any], sc *engine.StepContext) error {
	for consumed := int64(0); s.max <= 0 || consumed < s.max; consumed++ {
		value, err := sub.PollValue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrCompletedTopic), errors.Is(err, messaging.ErrClosedTopic):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			sc.AddError(err)
			sc.SetExhausted(true)
			return err
		}
		if err := sc.Send(ctx, value); err != nil {
			return err
		}
	}
	return nil
}

func topicOf(def schema.StepDefinition, services Services) (messaging.Topic[any], error) {
	name, err := paramsOf(def).RequiredString("topic")
	if err != nil {
		return nil, err
	}
	topic, err := services.Topics.Get(name)
	if err != nil {
		var engErr *schema.EngineError
		if errors.As(err, &engErr) {
			engErr.WithStep(def.ID)
		}
		return nil, err
	}
	return topic, nil
}

func newTopicProducerStep(def schema.StepDefinition, services Services) (engine.Step, error) {
	topic, err := topicOf(def, services)
	if err != nil {
		return nil, err
	}
	return NewTopicProducerStep(def.ID, topic), nil
}

func newTopicConsumerStep(def schema.StepDefinition, services Services) (engine.Step, error) {
	topic, err := topicOf(def, services)
	if err != nil {
		return nil, err
	}
	limit, err := paramsOf(def).Int("max", 0)
	if err != nil {
		return nil, err
	}
	return NewTopicConsumerStep(def.ID, topic, limit), nil
}
