package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"cel", "expr", "jq"} {
		e, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}
	_, err := New("lua")
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeValidation, ""))
}

func TestEnv_Map(t *testing.T) {
	env := Env{Input: 1, Minion: "m", Step: "s", Iteration: 2}
	assert.Equal(t, map[string]any{"input": 1, "minion": "m", "step": "s", "iteration": int64(2)}, env.Map())
}

func TestEvaluateBool_AllEngines(t *testing.T) {
	env := Env{Input: map[string]any{"ok": true}}
	for name, expression := range map[string]string{
		"cel":  "input.ok",
		"expr": "input.ok",
		"jq":   ".ok",
	} {
		t.Run(name, func(t *testing.T) {
			e, err := New(name)
			require.NoError(t, err)
			ok, err := EvaluateBool(context.Background(), e, expression, env)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}
