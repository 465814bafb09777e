package validation

import "github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"

// Validator checks scenario definitions for correctness before they are built.
// Uses JSON Schema Draft 2020-12 for the structure and the step parameters.
type Validator interface {
	ValidateDefinition(def *schema.ScenarioDefinition) error
	ValidateParams(params map[string]any, paramsSchema []byte) error
}

// KindLookup resolves the registered step kinds and the JSON Schema of their
// parameters. ParamsSchema returns nil for a kind without one.
type KindLookup interface {
	Has(kind string) bool
	ParamsSchema(kind string) []byte
}
