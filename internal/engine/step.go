package engine

import (
	"context"
	"log/slog"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
)

// StartStopContext identifies the campaign and the step being started or
// stopped by the scenario lifecycle.
type StartStopContext struct {
	CampaignKey  string
	ScenarioName string
	DAGID        string
	StepID       string
}

// Step is a node of a DAG. Execute consumes the input of the context and
// sends any number of values to its output. Steps are shared by all the
// minions and must be safe for concurrent use.
type Step interface {
	ID() string
	RetryPolicy() RetryPolicy
	Next() []Step
	AddNext(next Step)

	Init(ctx context.Context) error
	Start(ctx context.Context, sc StartStopContext) error
	Stop(ctx context.Context, sc StartStopContext) error
	Execute(ctx context.Context, sc *StepContext) error
	Destroy() error
}

// ErrorProcessingStep is implemented by steps executed even when the
// incoming context is exhausted, to process the errors of the branch.
type ErrorProcessingStep interface {
	ProcessesErrors() bool
}

// AsyncOutputStep is implemented by steps closing their output themselves,
// after Execute returned.
type AsyncOutputStep interface {
	KeepsOutputOpen() bool
}

// DecoratorStep is implemented by the steps wrapping another one.
type DecoratorStep interface {
	Decorated() Step
}

// Unwrap returns the innermost step of a chain of decorators.
func Unwrap(step Step) Step {
	for {
		d, ok := step.(DecoratorStep)
		if !ok {
			return step
		}
		step = d.Decorated()
	}
}

// IsErrorProcessing reports whether step, or the step it decorates,
// processes errors.
func IsErrorProcessing(step Step) bool {
	if ep, ok := Unwrap(step).(ErrorProcessingStep); ok {
		return ep.ProcessesErrors()
	}
	return false
}

func keepsOutputOpen(step Step) bool {
	if as, ok := Unwrap(step).(AsyncOutputStep); ok {
		return as.KeepsOutputOpen()
	}
	return false
}

// BaseStep provides the identity, the successors and the retry policy of a
// step, with no-op lifecycle methods. Concrete steps embed it and
// implement Execute.
type BaseStep struct {
	id    string
	retry RetryPolicy
	next  []Step
}

// NewBaseStep creates a BaseStep. retry may be nil.
func NewBaseStep(id string, retry RetryPolicy) BaseStep {
	return BaseStep{id: id, retry: retry}
}

func (s *BaseStep) ID() string               { return s.id }
func (s *BaseStep) RetryPolicy() RetryPolicy { return s.retry }
func (s *BaseStep) Next() []Step             { return s.next }

// SetRetryPolicy replaces the retry policy. Only called while building.
func (s *BaseStep) SetRetryPolicy(policy RetryPolicy) { s.retry = policy }

func (s *BaseStep) AddNext(next Step) { s.next = append(s.next, next) }

func (s *BaseStep) Init(context.Context) error                    { return nil }
func (s *BaseStep) Start(context.Context, StartStopContext) error { return nil }
func (s *BaseStep) Stop(context.Context, StartStopContext) error  { return nil }
func (s *BaseStep) Destroy() error                                { return nil }

// Launch runs fn as a task of the minion carried by ctx, or in a plain
// goroutine when there is none. Without a minion, errors and panics of fn are
// logged with the default logger.
func Launch(ctx context.Context, fn func(ctx context.Context) error) error {
	if m := MinionFrom(ctx); m != nil {
		return m.Launch(ctx, fn)
	}
	go func() {
		logger := logging.LogWith(ctx, slog.Default())
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked", "panic", r)
			}
		}()
		if err := fn(ctx); err != nil {
			logger.Warn("task failed", "error", err)
		}
	}()
	return nil
}
