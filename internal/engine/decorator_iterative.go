package engine

import (
	"context"
	"time"
)

// IterativeStepDecorator executes the decorated step several times with the
// same input value.
type IterativeStepDecorator struct {
	Decorator
	iterations int64
	delay      time.Duration
}

// NewIterativeStepDecorator creates a decorator executing the step the given
// number of times, or until the minion is cancelled when iterations <= 0.
func NewIterativeStepDecorator(iterations int64, delay time.Duration, decorated Step) *IterativeStepDecorator {
	return &IterativeStepDecorator{
		Decorator:  Decorator{decorated: decorated},
		iterations: iterations,
		delay:      delay,
	}
}

func (d *IterativeStepDecorator) Iterations() int64 { return d.iterations }

func (d *IterativeStepDecorator) Execute(ctx context.Context, sc *StepContext) error {
	input, err := sc.Receive()
	hasInput := err == nil

	for i := int64(0); d.iterations <= 0 || i < d.iterations; i++ {
		if i > 0 {
			if err := WaitForBackoff(ctx, d.delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if hasInput {
			sc.resetInput(input)
		}
		sc.setIteration(i)
		if err := ExecuteStep(ctx, d.decorated, sc); err != nil {
			return err
		}
		if sc.IsExhausted() {
			return nil
		}
	}
	return nil
}
