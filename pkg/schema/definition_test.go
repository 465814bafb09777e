package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDuration("150ms")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, d)

	_, err = ParseDuration("soon")
	require.Error(t, err)
	var engErr *EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, ErrCodeValidation, engErr.Code)
}

func TestDAGDefinition_Roots(t *testing.T) {
	dag := DAGDefinition{
		ID: "main",
		Steps: []StepDefinition{
			{ID: "b", Next: []string{"c"}},
			{ID: "a", Next: []string{"b"}},
			{ID: "c"},
			{ID: "reporter"},
		},
	}
	assert.Equal(t, []string{"a", "reporter"}, dag.Roots())
}

func TestScenarioDefinition_DecodesYAML(t *testing.T) {
	doc := `
name: checkout
minions: 20
start_rate: 5.5
retry:
  max: 3
  backoff: exponential
  delay: 10ms
topics:
  - name: orders
    kind: unicast
    buffer: 16
dags:
  - id: main
    steps:
      - id: numbers
        kind: range
        params:
          count: 10
        next: [even]
      - id: even
        kind: filter
        params:
          expression: "input % 2 == 0"
        timeout: 1s
        iterations: -1
`
	var def ScenarioDefinition
	require.NoError(t, yaml.Unmarshal([]byte(doc), &def))

	assert.Equal(t, "checkout", def.Name)
	assert.Equal(t, 20, def.Minions)
	assert.InDelta(t, 5.5, def.StartRate, 0.001)
	require.NotNil(t, def.Retry)
	assert.Equal(t, 3, def.Retry.Max)
	require.Len(t, def.Topics, 1)
	assert.Equal(t, TopicUnicast, def.Topics[0].Kind)
	require.Len(t, def.DAGs, 1)

	steps := def.DAGs[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, 10, steps[0].Params["count"])
	assert.Equal(t, []string{"even"}, steps[0].Next)
	assert.Equal(t, "1s", steps[1].Timeout)
	assert.Equal(t, int64(-1), steps[1].Iterations)
}
