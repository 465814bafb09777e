package steps

import (
	"context"
	"errors"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Build declares the topics of def into the topics of services, creates the
// steps with the factories of registry and returns the built scenario.
// The definition is expected to be validated.
func Build(ctx context.Context, def *schema.ScenarioDefinition, registry *Registry, services Services) (*engine.Scenario, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scenario definition is nil")
	}
	services = services.withDefaults()

	for _, t := range def.Topics {
		if _, err := services.Topics.Declare(t); err != nil {
			return nil, err
		}
	}

	defaultRetry, err := RetryPolicy(def.Retry)
	if err != nil {
		return nil, err
	}
	scenario := engine.NewScenario(def.Name,
		engine.WithExecutionProfile(engine.ExecutionProfile{
			MinionsCount: max(def.Minions, 1),
			StartRate:    def.StartRate,
			StartBurst:   def.StartBurst,
		}),
		engine.WithDefaultRetryPolicy(defaultRetry),
		engine.WithScenarioLogger(services.Logger),
	)

	for i := range def.DAGs {
		if err := buildDAG(scenario, &def.DAGs[i], registry, services); err != nil {
			return nil, err
		}
	}

	if err := scenario.Build(ctx); err != nil {
		return nil, err
	}
	return scenario, nil
}

func buildDAG(scenario *engine.Scenario, def *schema.DAGDefinition, registry *Registry, services Services) error {
	var opts []engine.DAGOption
	if def.Singleton {
		opts = append(opts, engine.Singleton())
	} else {
		opts = append(opts, engine.ScenarioStart())
	}
	dag := scenario.NewDAG(def.ID, opts...)

	built := make(map[string]engine.Step, len(def.Steps))
	for _, stepDef := range def.Steps {
		step, err := buildStep(stepDef, registry, services)
		if err != nil {
			return err
		}
		built[stepDef.ID] = step
	}

	for _, stepDef := range def.Steps {
		for _, id := range stepDef.Next {
			next, ok := built[id]
			if !ok {
				return schema.NewErrorf(schema.ErrCodeValidation, "next step %q not found in DAG %q", id, def.ID).
					WithStep(stepDef.ID)
			}
			built[stepDef.ID].AddNext(next)
		}
	}

	for _, id := range def.Roots() {
		dag.AddRoot(built[id])
	}
	return nil
}

type retrySetter interface {
	SetRetryPolicy(engine.RetryPolicy)
}

func buildStep(def schema.StepDefinition, registry *Registry, services Services) (engine.Step, error) {
	kind, err := registry.Get(def.Kind)
	if err != nil {
		return nil, withStep(err, def.ID)
	}
	step, err := kind.Factory(def, services)
	if err != nil {
		return nil, withStep(err, def.ID)
	}

	if def.Retry != nil {
		policy, err := RetryPolicy(def.Retry)
		if err != nil {
			return nil, withStep(err, def.ID)
		}
		rs, ok := step.(retrySetter)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step kind %q does not support retries", def.Kind).
				WithStep(def.ID)
		}
		rs.SetRetryPolicy(policy)
	}

	cfg, err := decoration(def)
	if err != nil {
		return nil, withStep(err, def.ID)
	}
	return engine.Decorate(step, cfg, services.Meters), nil
}

func decoration(def schema.StepDefinition) (engine.DecorationConfig, error) {
	cfg := engine.DecorationConfig{Iterations: def.Iterations}
	var err error
	if cfg.IterationDelay, err = schema.ParseDuration(def.IterationDelay); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = schema.ParseDuration(def.Timeout); err != nil {
		return cfg, err
	}
	if cfg.Delay, err = schema.ParseDuration(def.Delay); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RetryPolicy converts a retry definition into a policy, nil for none.
func RetryPolicy(def *schema.RetryPolicy) (engine.RetryPolicy, error) {
	if def == nil {
		return nil, nil
	}
	delay, err := schema.ParseDuration(def.Delay)
	if err != nil {
		return nil, err
	}
	maxDelay, err := schema.ParseDuration(def.MaxDelay)
	if err != nil {
		return nil, err
	}
	return engine.BackoffRetryPolicy{
		MaxAttempts: def.Max,
		Delay:       delay,
		Backoff:     def.Backoff,
		MaxDelay:    maxDelay,
	}, nil
}

func withStep(err error, stepID string) error {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) && engErr.StepID == "" {
		engErr.WithStep(stepID)
	}
	return err
}
