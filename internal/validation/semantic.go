package validation

import (
	"fmt"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// validateSemantic performs semantic analysis on the scenario definition.
// Checks: unique DAG, step and topic names, step kinds registered, parameters
// valid for their kind, next refs inside the same DAG, topic refs declared.
// params may be nil to skip the validation of the parameters.
func validateSemantic(def *schema.ScenarioDefinition, lookup KindLookup, params *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	topics := make(map[string]bool, len(def.Topics))
	for i, t := range def.Topics {
		if topics[t.Name] {
			result.AddError(fmt.Sprintf("topics[%d].name", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate topic %q", t.Name))
		}
		topics[t.Name] = true
	}

	// owners maps every step ID to the DAG declaring it.
	owners := make(map[string]string)
	dags := make(map[string]bool, len(def.DAGs))
	for i, dag := range def.DAGs {
		if dags[dag.ID] {
			result.AddError(fmt.Sprintf("dags[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate DAG id %q", dag.ID))
		}
		dags[dag.ID] = true

		for j, step := range dag.Steps {
			if owner, exists := owners[step.ID]; exists {
				result.AddError(fmt.Sprintf("dags[%d].steps[%d].id", i, j), schema.ErrCodeValidation,
					fmt.Sprintf("duplicate step id %q, already declared in DAG %q", step.ID, owner))
				continue
			}
			owners[step.ID] = dag.ID
		}
	}

	for i := range def.DAGs {
		dag := &def.DAGs[i]
		for j := range dag.Steps {
			path := fmt.Sprintf("dags[%d].steps[%d]", i, j)
			validateStepSemantic(&dag.Steps[j], dag.ID, path, owners, topics, lookup, params, result)
		}
	}

	if def.Retry != nil && def.Retry.Max > 10 {
		result.AddWarning("retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", def.Retry.Max))
	}

	return result
}

// validateStepSemantic checks a single step of the DAG dagID.
func validateStepSemantic(step *schema.StepDefinition, dagID, path string, owners map[string]string, topics map[string]bool,
	lookup KindLookup, params *JSONSchemaValidator, result *schema.ValidationResult) {
	// Kind existence and parameters.
	if lookup != nil {
		if !lookup.Has(step.Kind) {
			result.AddError(path+".kind", schema.ErrCodeNotFound,
				fmt.Sprintf("step kind %q not registered", step.Kind))
		} else if params != nil {
			if err := params.ValidateParams(step.Params, lookup.ParamsSchema(step.Kind)); err != nil {
				addViolations(result, path+".params", err)
			}
		}
	}

	// Referenced topic.
	if name, ok := step.Params["topic"].(string); ok && !topics[name] {
		result.AddError(path+".params.topic", schema.ErrCodeValidation,
			fmt.Sprintf("references undeclared topic %q", name))
	}

	// next references.
	for k, next := range step.Next {
		nextPath := fmt.Sprintf("%s.next[%d]", path, k)
		owner, exists := owners[next]
		switch {
		case next == step.ID:
			result.AddError(nextPath, schema.ErrCodeCycleDetected,
				fmt.Sprintf("step %q references itself", step.ID))
		case !exists:
			result.AddError(nextPath, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", next))
		case owner != dagID:
			result.AddError(nextPath, schema.ErrCodeValidation,
				fmt.Sprintf("references step %q of DAG %q, use a topic to exchange data between DAGs", next, owner))
		}
	}

	// Warning: high retry count.
	if step.Retry != nil && step.Retry.Max > 10 {
		result.AddWarning(path+".retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", step.Retry.Max))
	}

	// Warning: endless repetition.
	if step.Iterations < 0 {
		msg := "negative iterations repeat the step until the minion is cancelled"
		if step.Timeout != "" {
			msg = fmt.Sprintf("negative iterations repeat the step until the timeout (%s) exhausts the branch", step.Timeout)
		}
		result.AddWarning(path+".iterations", schema.ErrCodeValidation, msg)
	}
}

// addViolations records the violations carried by a schema validation error.
func addViolations(result *schema.ValidationResult, path string, err error) {
	engErr, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := engErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(path, schema.ErrCodeValidation, v)
		}
		return
	}
	result.AddError(path, schema.ErrCodeValidation, engErr.Message)
}
