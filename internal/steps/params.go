package steps

import (
	"encoding/json"
	"math"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/expressions"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// params reads the parameters of a step definition. Numbers may come from
// YAML (int, uint64, float64) or JSON (float64, json.Number).
type params struct {
	stepID string
	values map[string]any
}

func paramsOf(def schema.StepDefinition) params {
	return params{stepID: def.ID, values: def.Params}
}

func (p params) invalid(key, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "parameter %q: "+format, append([]any{key}, args...)...).
		WithStep(p.stepID)
}

func (p params) String(key, def string) (string, error) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", p.invalid(key, "expected a string, got %T", v)
	}
	return s, nil
}

func (p params) RequiredString(key string) (string, error) {
	s, err := p.String(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", p.invalid(key, "is required")
	}
	return s, nil
}

func (p params) Int(key string, def int64) (int64, error) {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, p.invalid(key, "%d overflows", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, p.invalid(key, "expected an integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, p.invalid(key, "expected an integer, got %s", n)
		}
		return i, nil
	default:
		return 0, p.invalid(key, "expected an integer, got %T", v)
	}
}

func (p params) Duration(key string, def time.Duration) (time.Duration, error) {
	s, err := p.String(key, "")
	if err != nil || s == "" {
		return def, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, p.invalid(key, "invalid duration %q", s)
	}
	return d, nil
}

// Engine returns the expression engine named by the "engine" parameter.
func (p params) Engine(def string) (expressions.Engine, error) {
	name, err := p.String("engine", def)
	if err != nil {
		return nil, err
	}
	engine, err := expressions.New(name)
	if err != nil {
		return nil, p.invalid("engine", "%s", err.Error())
	}
	return engine, nil
}
