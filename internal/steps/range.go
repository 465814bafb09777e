package steps

import (
	"context"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

const rangeParamsSchema = `{
  "type": "object",
  "required": ["count"],
  "properties": {
    "start": { "type": "integer" },
    "count": { "type": "integer", "minimum": 0 },
    "increment": { "type": "integer" }
  },
  "additionalProperties": false
}`

// RangeStep emits count integers from start, separated by increment, for
// each input it receives. It is the usual root of a DAG.
type RangeStep struct {
	engine.BaseStep
	start     int64
	count     int64
	increment int64
}

// NewRangeStep creates a RangeStep.
func NewRangeStep(id string, start, count, increment int64) *RangeStep {
	return &RangeStep{BaseStep: engine.NewBaseStep(id, nil), start: start, count: count, increment: increment}
}

func (s *RangeStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	if _, err := sc.Receive(); err != nil {
		return err
	}
	for i := int64(0); i < s.count; i++ {
		if err := sc.Send(ctx, s.start+i*s.increment); err != nil {
			return err
		}
	}
	return nil
}

func newRangeStep(def schema.StepDefinition, _ Services) (engine.Step, error) {
	p := paramsOf(def)
	start, err := p.Int("start", 0)
	if err != nil {
		return nil, err
	}
	count, err := p.Int("count", 1)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, p.invalid("count", "must not be negative")
	}
	increment, err := p.Int("increment", 1)
	if err != nil {
		return nil, err
	}
	return NewRangeStep(def.ID, start, count, increment), nil
}
