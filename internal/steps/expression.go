package steps

import (
	"context"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/expressions"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

const expressionParamsSchema = `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": { "type": "string", "minLength": 1 },
    "engine": { "type": "string", "enum": ["cel", "expr", "jq"] },
    "message": { "type": "string" }
  },
  "additionalProperties": false
}`

// envOf exposes the received value and the identity of the execution to
// the expressions.
func envOf(sc *engine.StepContext, input any) expressions.Env {
	return expressions.Env{
		Input:     input,
		Minion:    sc.MinionID,
		Step:      sc.StepID,
		Iteration: sc.StepIterationIndex(),
	}
}

// multiEvaluator is implemented by the engines able to produce several
// results, such as jq.
type multiEvaluator interface {
	EvaluateAll(ctx context.Context, expression string, env expressions.Env) ([]any, error)
}

// MapStep transforms each input with an expression and sends the result.
// A nil result is dropped. With jq, every result of the expression is sent.
type MapStep struct {
	engine.BaseStep
	engine     expressions.Engine
	expression string
}

// NewMapStep creates a MapStep.
func NewMapStep(id string, eng expressions.Engine, expression string) *MapStep {
	return &MapStep{BaseStep: engine.NewBaseStep(id, nil), engine: eng, expression: expression}
}

func (s *MapStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	input, err := sc.Receive()
	if err != nil {
		return err
	}

	if me, ok := s.engine.(multiEvaluator); ok {
		results, err := me.EvaluateAll(ctx, s.expression, envOf(sc, input))
		if err != nil {
			return err
		}
		for _, r := range results {
			if r == nil {
				continue
			}
			if err := sc.Send(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}

	out, err := s.engine.Evaluate(ctx, s.expression, envOf(sc, input))
	if err != nil || out == nil {
		return err
	}
	return sc.Send(ctx, out)
}

// FilterStep forwards the inputs matching a predicate.
type FilterStep struct {
	engine.BaseStep
	engine    expressions.Engine
	predicate string
}

// NewFilterStep creates a FilterStep.
func NewFilterStep(id string, eng expressions.Engine, predicate string) *FilterStep {
	return &FilterStep{BaseStep: engine.NewBaseStep(id, nil), engine: eng, predicate: predicate}
}

func (s *FilterStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	input, err := sc.Receive()
	if err != nil {
		return err
	}
	ok, err := expressions.EvaluateBool(ctx, s.engine, s.predicate, envOf(sc, input))
	if err != nil || !ok {
		return err
	}
	return sc.Send(ctx, input)
}

// VerificationStep asserts a predicate on each input. A failed assertion is
// a failure of the step, exhausting the branch; the input is forwarded
// otherwise.
type VerificationStep struct {
	engine.BaseStep
	engine    expressions.Engine
	assertion string
	message   string
	events    events.Logger
	meters    meters.Registry
}

// NewVerificationStep creates a VerificationStep. message describes the
// failure, it defaults to the assertion.
func NewVerificationStep(id string, eng expressions.Engine, assertion, message string, logger events.Logger, registry meters.Registry) *VerificationStep {
	if message == "" {
		message = "assertion failed: " + assertion
	}
	if logger == nil {
		logger = events.Noop()
	}
	if registry == nil {
		registry = meters.Noop()
	}
	return &VerificationStep{
		BaseStep:  engine.NewBaseStep(id, nil),
		engine:    eng,
		assertion: assertion,
		message:   message,
		events:    logger,
		meters:    registry,
	}
}

func (s *VerificationStep) Execute(ctx context.Context, sc *engine.StepContext) error {
	input, err := sc.Receive()
	if err != nil {
		return err
	}
	ok, err := expressions.EvaluateBool(ctx, s.engine, s.assertion, envOf(sc, input))
	if err != nil {
		return err
	}

	status := "success"
	if !ok {
		status = "failure"
	}
	meters.FromContext(ctx, s.meters).Counter(schema.MeterAssertions, meters.Tags{"step": s.ID(), "status": status}).Increment()

	if !ok {
		tags := sc.EventTags()
		tags["assertion"] = s.assertion
		tags["message"] = s.message
		s.events.Log(ctx, events.LevelWarn, schema.EventAssertionFailed, tags)
		return schema.NewError(schema.ErrCodeAssertion, s.message).
			WithStep(s.ID()).
			WithDetails(map[string]any{"assertion": s.assertion, "minion": sc.MinionID})
	}
	return sc.Send(ctx, input)
}

func expressionStep(def schema.StepDefinition, defaultEngine string) (expressions.Engine, string, error) {
	p := paramsOf(def)
	eng, err := p.Engine(defaultEngine)
	if err != nil {
		return nil, "", err
	}
	expression, err := p.RequiredString("expression")
	if err != nil {
		return nil, "", err
	}
	return eng, expression, nil
}

func newMapStep(def schema.StepDefinition, _ Services) (engine.Step, error) {
	eng, expression, err := expressionStep(def, "jq")
	if err != nil {
		return nil, err
	}
	return NewMapStep(def.ID, eng, expression), nil
}

func newFilterStep(def schema.StepDefinition, _ Services) (engine.Step, error) {
	eng, expression, err := expressionStep(def, "cel")
	if err != nil {
		return nil, err
	}
	return NewFilterStep(def.ID, eng, expression), nil
}

func newVerificationStep(def schema.StepDefinition, services Services) (engine.Step, error) {
	eng, expression, err := expressionStep(def, "expr")
	if err != nil {
		return nil, err
	}
	message, err := paramsOf(def).String("message", "")
	if err != nil {
		return nil, err
	}
	return NewVerificationStep(def.ID, eng, expression, message, services.Events, services.Meters), nil
}
