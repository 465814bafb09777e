package steps

import (
	"context"
	"log/slog"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// ErrorReporterStep is executed for the exhausted branches too: it logs an
// event for each error accumulated by the branch and forwards the input, if
// any.
type ErrorReporterStep struct {
	engine.BaseStep
	events events.Logger
	meters meters.Registry
	logger *slog.Logger
}

// NewErrorReporterStep creates an ErrorReporterStep.
func NewErrorReporterStep(id string, services Services) *ErrorReporterStep {
	services = services.withDefaults()
	return &ErrorReporterStep{
		BaseStep: engine.NewBaseStep(id, nil),
		events:   services.Events,
		meters:   services.Meters,
		logger:   services.Logger,
	}
}

func (s *ErrorReporterStep) ProcessesErrors() bool { return true }

func (s *ErrorReporterStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	for _, stepErr := range sc.Errors() {
		tags := sc.EventTags()
		tags["failed-step"] = stepErr.StepID
		tags["message"] = stepErr.Message
		s.events.Log(ctx, events.LevelWarn, schema.EventStepErrorReported, tags)
		meters.FromContext(ctx, s.meters).Counter(schema.MeterReportedErrors, meters.Tags{"step": stepErr.StepID}).Increment()
		logging.LogWith(ctx, s.logger).Debug("branch error reported",
			"failed_step", stepErr.StepID, "error", stepErr.Message)
	}

	if !sc.HasInput() {
		return nil
	}
	input, err := sc.Receive()
	if err != nil {
		return err
	}
	return sc.Send(ctx, input)
}

func newErrorReporterStep(def schema.StepDefinition, services Services) (engine.Step, error) {
	return NewErrorReporterStep(def.ID, services), nil
}
