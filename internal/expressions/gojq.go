package expressions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// jqVariables are bound to the minion, the step and the iteration of the env.
var jqVariables = []string{"$minion", "$step", "$iteration"}

// GoJQEngine implements the Engine interface using GoJQ for data transformation.
// The input of the step is the jq input ".".
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate compiles (or retrieves from cache) a jq expression and evaluates it
// against the input of env.
//
// jq expressions can produce multiple outputs. When there is exactly one output,
// it is returned directly. When there are multiple outputs, they are collected
// into a slice and returned as []any.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, env Env) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, env)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll is like Evaluate but always returns a slice of all outputs,
// even if there is only one or zero results.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, env Env) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input, err := normalizeForJQ(env.Input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq input of type %T: %s", env.Input, err.Error()).
			WithCause(err)
	}
	iter := code.RunWithContext(ctx, input, env.Minion, env.Step, int(env.Iteration))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		gojq.WithVariables(jqVariables),
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go values to the types jq handles. Values of
// other types, such as structs, go through their JSON representation.
func normalizeForJQ(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, float64, int:
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalizeForJQ(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalizeForJQ(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case int64:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case float32:
		return float64(val), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

var _ Engine = (*GoJQEngine)(nil)
