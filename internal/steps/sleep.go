package steps

import (
	"context"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

const sleepParamsSchema = `{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" }
  },
  "additionalProperties": false
}`

// SleepStep pauses the minion, then forwards its input. It simulates the
// think time of a user.
type SleepStep struct {
	engine.BaseStep
	duration time.Duration
}

// NewSleepStep creates a SleepStep.
func NewSleepStep(id string, duration time.Duration) *SleepStep {
	return &SleepStep{BaseStep: engine.NewBaseStep(id, nil), duration: duration}
}

func (s *SleepStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	input, err := sc.Receive()
	if err != nil {
		return err
	}
	if err := engine.WaitForBackoff(ctx, s.duration); err != nil {
		return err
	}
	return sc.Send(ctx, input)
}

func newSleepStep(def schema.StepDefinition, _ Services) (engine.Step, error) {
	d, err := paramsOf(def).Duration("duration", 0)
	if err != nil {
		return nil, err
	}
	return NewSleepStep(def.ID, d), nil
}
