package engine

import (
	"context"
	"errors"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// RetryPolicy re-executes block on failure. Implementations must return as
// soon as ctx is cancelled.
type RetryPolicy interface {
	Execute(ctx context.Context, sc *StepContext, block func(ctx context.Context) error) error
}

// Backoff strategies of BackoffRetryPolicy.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// NoRetry executes the block once.
var NoRetry RetryPolicy = noRetry{}

type noRetry struct{}

func (noRetry) Execute(ctx context.Context, _ *StepContext, block func(ctx context.Context) error) error {
	return block(ctx)
}

// BackoffRetryPolicy retries retryable errors up to MaxAttempts executions,
// waiting between attempts as computed by ComputeBackoff.
type BackoffRetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     string
	MaxDelay    time.Duration
}

func (p BackoffRetryPolicy) Execute(ctx context.Context, sc *StepContext, block func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sc.AttemptsAfterFailure++
			if werr := WaitForBackoff(ctx, p.ComputeBackoff(attempt-1)); werr != nil {
				return werr
			}
		}
		err = block(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryableError(err) {
			return err
		}
	}
	if attempts == 1 {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeRetryExhausted, "step failed after %d attempts", attempts).
		WithStep(sc.StepID).
		WithCause(err)
}

// IsRetryableError classifies whether an error should be retried.
// Cancellation, timeouts of the step and non-retryable engine errors are
// never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrStepTimeout) || errors.Is(err, ErrMinionCancelled) {
		return false
	}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}
	return true
}

// ComputeBackoff calculates the delay before the retry following the given
// failed attempt, starting at 0.
func (p BackoffRetryPolicy) ComputeBackoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	var delay time.Duration
	switch p.Backoff {
	case BackoffExponential:
		delay = p.Delay << min(attempt, 30)
	case BackoffLinear:
		delay = p.Delay * time.Duration(attempt+1)
	default:
		delay = p.Delay
	}
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
