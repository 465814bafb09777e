package engine

import (
	"context"
	"time"
)

// DelayedStepDecorator waits before executing the decorated step.
type DelayedStepDecorator struct {
	Decorator
	delay time.Duration
}

func NewDelayedStepDecorator(delay time.Duration, decorated Step) *DelayedStepDecorator {
	return &DelayedStepDecorator{Decorator: Decorator{decorated: decorated}, delay: delay}
}

func (d *DelayedStepDecorator) Execute(ctx context.Context, sc *StepContext) error {
	if err := WaitForBackoff(ctx, d.delay); err != nil {
		return err
	}
	return ExecuteStep(ctx, d.decorated, sc)
}
