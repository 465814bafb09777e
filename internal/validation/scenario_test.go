package validation

import (
	"testing"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*ScenarioValidator)(nil)
}

func TestScenarioValidator_FullValid(t *testing.T) {
	sv, err := NewScenarioValidator(newMockLookup("range", "filter"))
	require.NoError(t, err)

	def := singleDAG(
		schema.StepDefinition{ID: "s1", Kind: "range", Next: []string{"s2"}},
		schema.StepDefinition{ID: "s2", Kind: "filter"},
	)
	result := sv.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, sv.ValidateDefinition(def))
}

func TestScenarioValidator_NilDef(t *testing.T) {
	sv, err := NewScenarioValidator(nil)
	require.NoError(t, err)

	result := sv.Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestScenarioValidator_StructuralShortCircuits(t *testing.T) {
	sv, err := NewScenarioValidator(newMockLookup())
	require.NoError(t, err)

	// The unknown kind would be reported by the semantic stage.
	def := singleDAG(schema.StepDefinition{ID: "s1", Kind: "unknown", Timeout: "later"})
	result := sv.Validate(def)
	require.NotEmpty(t, result.Errors)
	for _, e := range result.Errors {
		assert.Equal(t, schema.ErrCodeValidation, e.Code)
		assert.NotContains(t, e.Message, "not registered")
	}
}

func TestScenarioValidator_SemanticErrorsSkipDAGStage(t *testing.T) {
	sv, err := NewScenarioValidator(nil)
	require.NoError(t, err)

	def := singleDAG(
		schema.StepDefinition{ID: "a", Kind: "range", Next: []string{"b", "missing"}},
		schema.StepDefinition{ID: "b", Kind: "range", Next: []string{"a"}},
	)
	result := sv.Validate(def)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "missing")
}

func TestScenarioValidator_CycleToError(t *testing.T) {
	sv, err := NewScenarioValidator(nil)
	require.NoError(t, err)

	def := singleDAG(
		schema.StepDefinition{ID: "a", Kind: "range", Next: []string{"b"}},
		schema.StepDefinition{ID: "b", Kind: "range", Next: []string{"a"}},
	)
	requireEngineError(t, sv.ValidateDefinition(def), schema.ErrCodeCycleDetected)
}

func TestScenarioValidator_Delegates(t *testing.T) {
	sv, err := NewScenarioValidator(nil)
	require.NoError(t, err)

	assert.NoError(t, sv.ValidateParams(map[string]any{"count": 1}, countSchema))
	requireEngineError(t, sv.ValidateConfig(map[string]any{"log_format": "xml"}), schema.ErrCodeValidation)
}
