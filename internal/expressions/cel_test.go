package expressions

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Predicates(t *testing.T) {
	e := newCEL(t)
	env := Env{
		Input:     map[string]any{"status": "ok", "items": []any{1, 2}, "latency": 120},
		Minion:    "m-1",
		Step:      "filter",
		Iteration: 3,
	}

	tests := []struct {
		expression string
		want       bool
	}{
		{`input.status == "ok"`, true},
		{`size(input.items) == 2`, true},
		{`input.latency < 100`, false},
		{`minion.startsWith("m-")`, true},
		{`step == "filter" && iteration == 3`, true},
		{`"missing" in input`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			out, err := EvaluateBool(context.Background(), e, tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCEL_ScalarInput(t *testing.T) {
	e := newCEL(t)
	out, err := e.Evaluate(context.Background(), "input > 5", Env{Input: 7})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "1 + 2", Env{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "", Env{})
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))

	_, err = e.Evaluate(context.Background(), "input >", Env{})
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))

	// Only the declared variables are available.
	_, err = e.Evaluate(context.Background(), `os.env["HOME"]`, Env{})
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))

	_, err = e.Evaluate(context.Background(), "minion + 1", Env{})
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))

	_, err = e.Evaluate(context.Background(), "input.missing > 0", Env{Input: map[string]any{}})
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
	assert.Equal(t, "input.missing > 0", engErr.Details["expression"])
}

func TestCEL_NotABoolean(t *testing.T) {
	e := newCEL(t)
	_, err := EvaluateBool(context.Background(), e, "input", Env{Input: "text"})
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))
}

func TestCEL_Concurrent(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), fmt.Sprintf("input + %d", i%5), Env{Input: i})
			if err != nil {
				errs <- err
				return
			}
			if out != int64(i+i%5) {
				errs <- fmt.Errorf("unexpected %v for %d", out, i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, e.cache, 5)
}
