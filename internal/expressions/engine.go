package expressions

import (
	"context"
	"fmt"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Engine evaluates the expressions of the built-in steps.
// Three implementations: CEL (predicates), GoJQ (transforms), Expr (assertions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, env Env) (any, error)
}

// Env is the data an expression is evaluated against.
type Env struct {
	// Input is the value received by the step.
	Input     any
	Minion    string
	Step      string
	Iteration int64
}

// Map exposes the env as top-level variables.
func (e Env) Map() map[string]any {
	return map[string]any{
		"input":     e.Input,
		"minion":    e.Minion,
		"step":      e.Step,
		"iteration": e.Iteration,
	}
}

// New returns the engine registered under name: cel, expr or jq.
func New(name string) (Engine, error) {
	switch name {
	case "cel":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	case "jq":
		return NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name)
	}
}

// EvaluateBool evaluates a predicate. A non-boolean result is an error.
func EvaluateBool(ctx context.Context, engine Engine, expression string, env Env) (bool, error) {
	out, err := engine.Evaluate(ctx, expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s expression %q returned %s, expected a boolean", engine.Name(), expression, fmt.Sprintf("%T", out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}
