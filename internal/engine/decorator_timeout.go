package engine

import (
	"context"
	"errors"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// TimeoutStepDecorator interrupts the decorated step when it runs longer
// than the timeout. The context is then exhausted.
type TimeoutStepDecorator struct {
	Decorator
	timeout time.Duration
	meters  meters.Registry
}

func NewTimeoutStepDecorator(timeout time.Duration, decorated Step, registry meters.Registry) *TimeoutStepDecorator {
	if registry == nil {
		registry = meters.Noop()
	}
	return &TimeoutStepDecorator{
		Decorator: Decorator{decorated: decorated},
		timeout:   timeout,
		meters:    registry,
	}
}

func (d *TimeoutStepDecorator) Timeout() time.Duration { return d.timeout }

func (d *TimeoutStepDecorator) Execute(ctx context.Context, sc *StepContext) error {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	if err := Launch(execCtx, func(ctx context.Context) error {
		err := ExecuteStep(ctx, d.decorated, sc)
		done <- err
		return err
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return d.outcome(ctx, execCtx, sc, err)
	case <-execCtx.Done():
		select {
		case err := <-done:
			return d.outcome(ctx, execCtx, sc, err)
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return d.timedOut(ctx, sc)
	}
}

func (d *TimeoutStepDecorator) outcome(ctx, execCtx context.Context, sc *StepContext, err error) error {
	if err != nil && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return d.timedOut(ctx, sc)
	}
	return err
}

func (d *TimeoutStepDecorator) timedOut(ctx context.Context, sc *StepContext) error {
	sc.SetExhausted(true)
	sc.AddError(StepError{
		StepID:  sc.StepID,
		Message: "timeout after " + d.timeout.String(),
		Cause:   ErrStepTimeout,
		At:      time.Now(),
	})
	meters.FromContext(ctx, d.meters).Counter(schema.MeterStepTimeout, meters.Tags{"step": sc.StepID, "minion": sc.MinionID}).Increment()
	return ErrStepTimeout
}
