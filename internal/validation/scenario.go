package validation

import (
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// ScenarioValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (kinds, parameters, step and topic refs)
// 3. DAG (cycles)
type ScenarioValidator struct {
	jsonSchema *JSONSchemaValidator
	kinds      KindLookup
}

// NewScenarioValidator creates a ScenarioValidator.
// lookup may be nil to skip the checks of the step kinds and parameters.
func NewScenarioValidator(lookup KindLookup) (*ScenarioValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ScenarioValidator{
		jsonSchema: jsv,
		kinds:      lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (sv *ScenarioValidator) Validate(def *schema.ScenarioDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "scenario definition is nil")
		return r
	}

	result := validateStructural(sv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, sv.kinds, sv.jsonSchema))

	// The graph may be meaningless with dangling references.
	if result.Valid() {
		result.Merge(validateDAGs(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (sv *ScenarioValidator) ValidateDefinition(def *schema.ScenarioDefinition) error {
	return sv.Validate(def).ToError()
}

// ValidateParams delegates to the underlying JSONSchemaValidator.
func (sv *ScenarioValidator) ValidateParams(params map[string]any, paramsSchema []byte) error {
	return sv.jsonSchema.ValidateParams(params, paramsSchema)
}

// ValidateConfig delegates to the underlying JSONSchemaValidator.
func (sv *ScenarioValidator) ValidateConfig(doc map[string]any) error {
	return sv.jsonSchema.ValidateConfig(doc)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.ScenarioDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := v.ValidateDefinition(def); err != nil {
		addViolations(result, "/", err)
	}
	return result
}
