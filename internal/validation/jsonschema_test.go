package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalScenario() *schema.ScenarioDefinition {
	return &schema.ScenarioDefinition{
		Name: "minimal",
		DAGs: []schema.DAGDefinition{
			{ID: "main", Steps: []schema.StepDefinition{{ID: "s1", Kind: "range"}}},
		},
	}
}

func requireEngineError(t *testing.T, err error, code string) *schema.EngineError {
	t.Helper()
	require.Error(t, err)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, code, engErr.Code)
	return engErr
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.scenarioSchema)
	assert.NotNil(t, v.configSchema)
}

// --- ValidateDefinition ---

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	engErr := requireEngineError(t, v.ValidateDefinition(nil), schema.ErrCodeValidation)
	assert.Contains(t, engErr.Message, "nil")
}

func TestValidateDefinition_MinimalValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateDefinition(minimalScenario()))
}

func TestValidateDefinition_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.ScenarioDefinition{
		Name:       "checkout",
		Minions:    100,
		StartRate:  12.5,
		StartBurst: 5,
		Retry:      &schema.RetryPolicy{Max: 3, Backoff: "exponential", Delay: "100ms", MaxDelay: "2s"},
		Topics: []schema.TopicDefinition{
			{Name: "orders", Kind: schema.TopicUnicast, Buffer: 10, IdleTimeout: "30s"},
		},
		DAGs: []schema.DAGDefinition{
			{
				ID: "main",
				Steps: []schema.StepDefinition{
					{ID: "numbers", Kind: "range", Params: map[string]any{"count": 10}, Next: []string{"double"}},
					{
						ID: "double", Kind: "map", Params: map[string]any{"expression": ". * 2"},
						Timeout: "1s", Delay: "10ms", Iterations: 3, IterationDelay: "1m30s",
						Retry: &schema.RetryPolicy{Max: 2},
					},
				},
			},
			{ID: "producer", Singleton: true, Steps: []schema.StepDefinition{{ID: "p", Kind: "range"}}},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_StructuralErrors(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(def *schema.ScenarioDefinition)
	}{
		{"missing name", func(def *schema.ScenarioDefinition) { def.Name = "" }},
		{"no DAG", func(def *schema.ScenarioDefinition) { def.DAGs = []schema.DAGDefinition{} }},
		{"nil DAGs", func(def *schema.ScenarioDefinition) { def.DAGs = nil }},
		{"DAG without steps", func(def *schema.ScenarioDefinition) { def.DAGs[0].Steps = nil }},
		{"step without kind", func(def *schema.ScenarioDefinition) { def.DAGs[0].Steps[0].Kind = "" }},
		{"step without id", func(def *schema.ScenarioDefinition) { def.DAGs[0].Steps[0].ID = "" }},
		{"negative minions", func(def *schema.ScenarioDefinition) { def.Minions = -1 }},
		{"invalid timeout", func(def *schema.ScenarioDefinition) { def.DAGs[0].Steps[0].Timeout = "soon" }},
		{"unitless delay", func(def *schema.ScenarioDefinition) { def.DAGs[0].Steps[0].Delay = "10" }},
		{"unknown backoff", func(def *schema.ScenarioDefinition) {
			def.Retry = &schema.RetryPolicy{Max: 1, Backoff: "fibonacci"}
		}},
		{"unknown topic kind", func(def *schema.ScenarioDefinition) {
			def.Topics = []schema.TopicDefinition{{Name: "t", Kind: "multicast"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := minimalScenario()
			tt.mutate(def)
			requireEngineError(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
		})
	}
}

func TestValidateDefinition_ReportsEveryViolation(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := minimalScenario()
	def.Name = ""
	def.DAGs[0].Steps[0].Timeout = "soon"

	engErr := requireEngineError(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
	violations, ok := engErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
	assert.Contains(t, engErr.Message, "validation failed")
}

// --- ValidateConfig ---

func TestValidateConfig(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateConfig(nil))
	assert.NoError(t, v.ValidateConfig(map[string]any{
		"scenario":     "scenario.yaml",
		"minions":      10,
		"start_rate":   2.5,
		"timeout":      "5m",
		"db_path":      "qalipsis.db",
		"log_level":    "debug",
		"log_format":   "json",
		"events_level": "off",
		"schedule":     "@every 1h",
	}))

	requireEngineError(t, v.ValidateConfig(map[string]any{"log_level": "verbose"}), schema.ErrCodeValidation)
	requireEngineError(t, v.ValidateConfig(map[string]any{"minions": -3}), schema.ErrCodeValidation)
	requireEngineError(t, v.ValidateConfig(map[string]any{"listen_addr": ":8080"}), schema.ErrCodeValidation)
	requireEngineError(t, v.ValidateConfig(map[string]any{"timeout": "forever"}), schema.ErrCodeValidation)
}

// --- ValidateParams ---

var countSchema = []byte(`{
  "type": "object",
  "required": ["count"],
  "properties": { "count": { "type": "integer", "minimum": 1 } }
}`)

func TestValidateParams(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateParams(map[string]any{"count": 3}, countSchema))
	assert.NoError(t, v.ValidateParams(nil, nil), "no schema means no validation")

	requireEngineError(t, v.ValidateParams(map[string]any{"count": 0}, countSchema), schema.ErrCodeValidation)
	requireEngineError(t, v.ValidateParams(nil, countSchema), schema.ErrCodeValidation)
	requireEngineError(t, v.ValidateParams(map[string]any{"count": "3"}, countSchema), schema.ErrCodeValidation)
}

func TestValidateParams_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	engErr := requireEngineError(t, v.ValidateParams(map[string]any{}, []byte(`{not json`)), schema.ErrCodeValidation)
	assert.Contains(t, engErr.Message, "invalid parameters schema")
}

func TestValidateParams_CachesCompiledSchemas(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateParams(map[string]any{"count": 1}, countSchema))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
