package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEventsLogger sets the events logger of the step executions.
func WithEventsLogger(logger events.Logger) RunnerOption {
	return func(r *Runner) { r.events = logger }
}

// WithMeterRegistry sets the registry of the meters of the runner. The
// executed steps also record their own meters into it.
func WithMeterRegistry(registry meters.Registry) RunnerOption {
	return func(r *Runner) {
		r.meters = registry
		r.stepMeters = registry != nil
	}
}

// WithLogger sets the logger of the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithTracer sets the tracer creating a span for each step execution.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = tracer }
}

// Runner drives the minions through the DAGs: each step execution is a task
// of the minion, and every record sent by a step is given to each of its
// next steps in a new task.
type Runner struct {
	events events.Logger
	meters meters.Registry
	logger *slog.Logger
	tracer trace.Tracer

	// stepMeters is set when the steps record into meters instead of the
	// registry they were built with.
	stepMeters bool

	idleMinions    meters.Gauge
	runningMinions meters.Gauge
	runningSteps   meters.Gauge
	executedSteps  meters.Counter
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		events: events.Noop(),
		meters: meters.Noop(),
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("qalipsis/engine"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meters == nil {
		r.meters = meters.Noop()
	}
	r.idleMinions = r.meters.Gauge(schema.MeterIdleMinions, nil)
	r.runningMinions = r.meters.Gauge(schema.MeterRunningMinions, nil)
	r.runningSteps = r.meters.Gauge(schema.MeterRunningSteps, nil)
	r.executedSteps = r.meters.Counter(schema.MeterExecutedSteps, nil)
	return r
}

// Run waits for the minion to start and launches the root steps of dag with
// the unit input. It does not wait for the executions: use Minion.Join.
func (r *Runner) Run(ctx context.Context, minion *Minion, dag *DAG) error {
	r.idleMinions.Add(1)
	err := minion.WaitForStart(ctx)
	r.idleMinions.Add(-1)
	if err != nil {
		return err
	}

	r.runningMinions.Add(1)
	minion.OnComplete(func() { r.runningMinions.Add(-1) })

	mctx := logging.WithDAG(minion.Context(), dag.ID())
	if r.stepMeters {
		mctx = meters.NewContext(mctx, r.meters)
	}
	for _, root := range dag.Roots() {
		sc := NewStepContextWithInput(ContextIdentity{
			CampaignKey:  minion.CampaignKey(),
			MinionID:     minion.ID(),
			ScenarioName: dag.Scenario().Name(),
			DAGID:        dag.ID(),
			StepID:       root.ID(),
		}, Unit{})
		if err := r.launch(mctx, minion, root, sc); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) launch(ctx context.Context, minion *Minion, step Step, sc *StepContext) error {
	err := minion.Launch(ctx, func(ctx context.Context) error {
		r.execute(ctx, minion, step, sc)
		return nil
	})
	if err != nil {
		sc.Close()
	}
	return err
}

// execute runs step on sc, after having launched the task reading its
// output when the step has successors.
func (r *Runner) execute(ctx context.Context, minion *Minion, step Step, sc *StepContext) {
	if len(step.Next()) > 0 {
		if err := minion.Launch(ctx, func(ctx context.Context) error {
			r.scheduleNext(ctx, minion, step, sc)
			return nil
		}); err != nil {
			sc.Close()
			return
		}
	} else {
		sc.SetCompleted(true)
		sc.discardOutput()
	}

	ok := r.executeSingle(ctx, step, sc)
	if ok && keepsOutputOpen(step) {
		sc.CloseInput()
		return
	}
	sc.Close()
}

// scheduleNext reads the output of sc until it is closed and executes the
// next steps with each record. When sc ends exhausted and no exhausted
// context was propagated yet, the next steps receive an exhausted context
// without input, so that the error-processing steps are executed.
func (r *Runner) scheduleNext(ctx context.Context, minion *Minion, step Step, sc *StepContext) {
	hasOutput := false
	for record := range sc.Output() {
		hasOutput = true
		for _, next := range step.Next() {
			exhausted := sc.IsExhausted()
			if exhausted {
				sc.exhaustionNotified.Store(true)
			}
			if err := r.launch(ctx, minion, next, sc.nextFromRecord(record, next.ID(), exhausted)); err != nil {
				r.logger.DebugContext(ctx, "next step not executed", "step", next.ID(), "error", err)
			}
		}
	}

	if sc.IsExhausted() && sc.exhaustionNotified.CompareAndSwap(false, true) {
		for _, next := range step.Next() {
			if err := r.launch(ctx, minion, next, sc.NextExhausted(next.ID())); err != nil {
				r.logger.DebugContext(ctx, "next step not executed", "step", next.ID(), "error", err)
			}
		}
	} else if !hasOutput {
		sc.SetCompleted(true)
	}
}

// executeSingle executes the step unless sc is exhausted and the step does
// not process errors. Failures are recorded into sc, which becomes
// exhausted. It returns true when the step was executed successfully.
func (r *Runner) executeSingle(ctx context.Context, step Step, sc *StepContext) bool {
	if sc.IsExhausted() && !IsErrorProcessing(step) {
		return false
	}

	ctx = logging.WithStep(ctx, step.ID())
	ctx, span := r.tracer.Start(ctx, "step:"+step.ID(), trace.WithAttributes(
		attribute.String("qalipsis.minion", sc.MinionID),
		attribute.String("qalipsis.dag", sc.DAGID),
		attribute.String("qalipsis.step", step.ID()),
	))
	defer span.End()

	r.events.Log(ctx, events.LevelInfo, schema.StepEvent(step.ID(), schema.StepEventStarted), sc.EventTags())
	r.runningSteps.Add(1)
	start := time.Now()

	err := r.safeExecute(ctx, step, sc)
	duration := time.Since(start)

	r.runningSteps.Add(-1)
	r.executedSteps.Increment()

	status := schema.StepStatusCompleted
	switch {
	case err == nil:
		r.events.Log(ctx, events.LevelInfo, schema.StepEvent(step.ID(), schema.StepEventCompleted), sc.EventTags())
	case errors.Is(err, ErrStepTimeout):
		status = schema.StepStatusCancelled
		r.events.Log(ctx, events.LevelWarn, schema.StepEvent(step.ID(), schema.StepEventTimedOut), sc.EventTags())
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrMinionCancelled):
		status = schema.StepStatusCancelled
		sc.SetExhausted(true)
	default:
		status = schema.StepStatusFailed
		sc.AddError(err)
		sc.SetExhausted(true)
		tags := sc.EventTags()
		tags["error"] = err.Error()
		r.events.Log(ctx, events.LevelWarn, schema.StepEvent(step.ID(), schema.StepEventFailed), tags)
		r.logger.WarnContext(ctx, "step failed, the context is exhausted", "step", step.ID(), "error", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("qalipsis.status", string(status)))

	r.meters.Timer(schema.MeterStepExecution, meters.Tags{"step": step.ID(), "status": string(status)}).Record(duration)
	return err == nil
}

func (r *Runner) safeExecute(ctx context.Context, step Step, sc *StepContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = schema.NewErrorf(schema.ErrCodeStepFailed, "step panicked: %v", p).WithStep(step.ID())
		}
	}()
	return ExecuteStep(ctx, step, sc)
}
