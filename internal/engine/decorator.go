package engine

import (
	"context"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

var (
	// ErrStepTimeout is the outcome of a step interrupted by its timeout.
	ErrStepTimeout = schema.NewError(schema.ErrCodeTimeout, "the step execution timed out")
	// ErrMinionCancelled is returned when launching a task on a cancelled minion.
	ErrMinionCancelled = schema.NewError(schema.ErrCodeCancelled, "the minion was cancelled")
)

// Decorator forwards the Step contract to the decorated step. The retry
// policy is not forwarded: the decorated step is executed through
// ExecuteStep, which applies it.
type Decorator struct {
	decorated Step
}

func (d *Decorator) ID() string               { return d.decorated.ID() }
func (d *Decorator) RetryPolicy() RetryPolicy { return nil }
func (d *Decorator) Next() []Step             { return d.decorated.Next() }
func (d *Decorator) AddNext(next Step)        { d.decorated.AddNext(next) }
func (d *Decorator) Decorated() Step          { return d.decorated }
func (d *Decorator) Destroy() error           { return d.decorated.Destroy() }

func (d *Decorator) Init(ctx context.Context) error {
	return d.decorated.Init(ctx)
}

func (d *Decorator) Start(ctx context.Context, sc StartStopContext) error {
	return d.decorated.Start(ctx, sc)
}

func (d *Decorator) Stop(ctx context.Context, sc StartStopContext) error {
	return d.decorated.Stop(ctx, sc)
}

// DecorationConfig describes the decorators applied by Decorate.
type DecorationConfig struct {
	// Iterations is the number of executions of the step for each input:
	// 0 leaves the step undecorated, a negative value repeats it until the
	// minion is cancelled.
	Iterations     int64
	IterationDelay time.Duration
	Timeout        time.Duration
	Delay          time.Duration
}

// Decorate wraps step in the iterative, timeout and delayed decorators, in
// that order from the innermost, skipping the ones not configured.
func Decorate(step Step, cfg DecorationConfig, registry meters.Registry) Step {
	if cfg.Iterations != 0 {
		step = NewIterativeStepDecorator(cfg.Iterations, cfg.IterationDelay, step)
	}
	if cfg.Timeout > 0 {
		step = NewTimeoutStepDecorator(cfg.Timeout, step, registry)
	}
	if cfg.Delay > 0 {
		step = NewDelayedStepDecorator(cfg.Delay, step)
	}
	return step
}
