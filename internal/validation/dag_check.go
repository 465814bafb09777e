package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// validateDAGs performs the graph analysis of every DAG: cycle detection
// using Kahn's algorithm over the next edges, and a warning for the
// singleton DAGs with several roots.
func validateDAGs(def *schema.ScenarioDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i := range def.DAGs {
		validateDAG(&def.DAGs[i], fmt.Sprintf("dags[%d]", i), result)
	}
	return result
}

func validateDAG(dag *schema.DAGDefinition, path string, result *schema.ValidationResult) {
	stepIDs := make(map[string]bool, len(dag.Steps))
	for _, s := range dag.Steps {
		stepIDs[s.ID] = true
	}

	// next[id] = successors of step id inside the DAG.
	next := make(map[string][]string, len(dag.Steps))
	inDegree := make(map[string]int, len(dag.Steps))
	for id := range stepIDs {
		inDegree[id] = 0
	}
	for _, s := range dag.Steps {
		seen := make(map[string]bool, len(s.Next))
		for _, n := range s.Next {
			if !stepIDs[n] || seen[n] {
				continue // invalid refs already caught by semantic
			}
			seen[n] = true
			next[s.ID] = append(next[s.ID], n)
			inDegree[n]++
		}
	}

	queue := make([]string, 0, len(dag.Steps))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	roots := len(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, n := range next[node] {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}

	if visited != len(stepIDs) {
		var remaining []string
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		result.AddError(path, schema.ErrCodeCycleDetected,
			fmt.Sprintf("DAG %q contains a cycle through steps %s", dag.ID, strings.Join(remaining, ", ")))
		return
	}

	if dag.Singleton && roots > 1 {
		result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("singleton DAG %q has %d roots, each of them runs once", dag.ID, roots))
	}
}
