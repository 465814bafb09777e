package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// ExecutionProfile describes how the minions of a scenario are started.
type ExecutionProfile struct {
	MinionsCount int
	// StartRate is the count of minions started per second, 0 for no limit.
	StartRate  float64
	StartBurst int
}

// ScenarioOption configures a Scenario.
type ScenarioOption func(*Scenario)

// WithMinionsCount sets the count of minions of the scenario.
func WithMinionsCount(count int) ScenarioOption {
	return func(s *Scenario) { s.profile.MinionsCount = count }
}

// WithExecutionProfile sets the execution profile of the scenario.
func WithExecutionProfile(profile ExecutionProfile) ScenarioOption {
	return func(s *Scenario) { s.profile = profile }
}

// WithDefaultRetryPolicy sets the retry policy of the steps without one.
func WithDefaultRetryPolicy(policy RetryPolicy) ScenarioOption {
	return func(s *Scenario) { s.defaultRetry = policy }
}

// WithScenarioLogger sets the logger of the lifecycle operations.
func WithScenarioLogger(logger *slog.Logger) ScenarioOption {
	return func(s *Scenario) { s.logger = logger }
}

// Scenario is a set of DAGs executed by the minions of a campaign. It is
// immutable once built.
type Scenario struct {
	name         string
	profile      ExecutionProfile
	defaultRetry RetryPolicy
	logger       *slog.Logger

	dags  []*DAG
	built bool
}

// NewScenario creates an empty scenario.
func NewScenario(name string, opts ...ScenarioOption) *Scenario {
	s := &Scenario{name: name, profile: ExecutionProfile{MinionsCount: 1}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scenario) Name() string                    { return s.name }
func (s *Scenario) Profile() ExecutionProfile       { return s.profile }
func (s *Scenario) DefaultRetryPolicy() RetryPolicy { return s.defaultRetry }
func (s *Scenario) DAGs() []*DAG                    { return s.dags }

// DAGOption configures a DAG.
type DAGOption func(*DAG)

// Singleton makes the DAG executed by a single minion per campaign.
func Singleton() DAGOption {
	return func(d *DAG) { d.singleton = true }
}

// ScenarioStart marks the DAG as an entry point of the scenario.
func ScenarioStart() DAGOption {
	return func(d *DAG) { d.scenarioStart = true }
}

// NewDAG adds a DAG to the scenario.
func (s *Scenario) NewDAG(id string, opts ...DAGOption) *DAG {
	d := &DAG{id: id, scenario: s}
	for _, opt := range opts {
		opt(d)
	}
	s.dags = append(s.dags, d)
	return d
}

// DAG returns the DAG with the given id, or nil.
func (s *Scenario) DAG(id string) *DAG {
	for _, d := range s.dags {
		if d.id == id {
			return d
		}
	}
	return nil
}

// DAG is a directed acyclic graph of steps, starting from its roots.
type DAG struct {
	id            string
	scenario      *Scenario
	singleton     bool
	scenarioStart bool
	roots         []Step

	// steps in topological order, computed by Build.
	steps []Step
}

func (d *DAG) ID() string            { return d.id }
func (d *DAG) Scenario() *Scenario   { return d.scenario }
func (d *DAG) Singleton() bool       { return d.singleton }
func (d *DAG) IsScenarioStart() bool { return d.scenarioStart }
func (d *DAG) Roots() []Step         { return d.roots }

// AddRoot adds a step executed with the unit input for each minion.
func (d *DAG) AddRoot(step Step) { d.roots = append(d.roots, step) }

// Steps returns the steps of the DAG in topological order. Only valid after
// the scenario is built.
func (d *DAG) Steps() []Step { return d.steps }

// StepCount returns the count of steps of the DAG.
func (d *DAG) StepCount() int { return len(d.steps) }

type retrySetter interface {
	SetRetryPolicy(RetryPolicy)
}

// Build validates the scenario, applies the default retry policy and
// initializes the steps.
func (s *Scenario) Build(ctx context.Context) error {
	if s.built {
		return schema.NewErrorf(schema.ErrCodeConflict, "scenario %s is already built", s.name)
	}

	result := &schema.ValidationResult{}
	if len(s.dags) == 0 {
		result.AddError(s.name, schema.ErrCodeValidation, "scenario has no DAG")
	}

	owners := make(map[string]string)
	seenDAG := make(map[string]bool, len(s.dags))
	for _, d := range s.dags {
		path := s.name + "/" + d.id
		if seenDAG[d.id] {
			result.AddError(path, schema.ErrCodeValidation, "duplicate DAG id")
			continue
		}
		seenDAG[d.id] = true
		if len(d.roots) == 0 {
			result.AddError(path, schema.ErrCodeValidation, "DAG has no root step")
			continue
		}
		steps, err := sortSteps(d.roots, path, result)
		if err != nil {
			result.AddError(path, schema.ErrCodeCycleDetected, err.Error())
			continue
		}
		for _, step := range steps {
			if owner, ok := owners[step.ID()]; ok {
				result.AddError(path+"/"+step.ID(), schema.ErrCodeValidation,
					fmt.Sprintf("step already belongs to DAG %s", owner))
			}
			owners[step.ID()] = d.id
		}
		d.steps = steps
	}
	if err := result.ToError(); err != nil {
		return err
	}

	for _, d := range s.dags {
		for _, step := range d.steps {
			if s.defaultRetry != nil {
				inner := Unwrap(step)
				if setter, ok := inner.(retrySetter); ok && inner.RetryPolicy() == nil {
					setter.SetRetryPolicy(s.defaultRetry)
				}
			}
			if err := step.Init(ctx); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "init step %s: %s", step.ID(), err.Error()).
					WithStep(step.ID()).WithCause(err)
			}
		}
	}
	s.built = true
	return nil
}

// sortSteps collects the steps reachable from roots and sorts them with
// Kahn's algorithm. Distinct steps sharing an id are reported in result.
func sortSteps(roots []Step, path string, result *schema.ValidationResult) ([]Step, error) {
	var reachable []Step
	byID := make(map[string]Step)
	inDegree := make(map[string]int)

	var visit func(step Step)
	visit = func(step Step) {
		if existing, ok := byID[step.ID()]; ok {
			if existing != step {
				result.AddError(path+"/"+step.ID(), schema.ErrCodeValidation, "duplicate step id")
			}
			return
		}
		byID[step.ID()] = step
		reachable = append(reachable, step)
		for _, next := range step.Next() {
			visit(next)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	if !result.Valid() {
		return reachable, nil
	}
	for _, step := range reachable {
		for _, id := range nextIDs(step) {
			inDegree[id]++
		}
	}

	var queue []Step
	for _, step := range reachable {
		if inDegree[step.ID()] == 0 {
			queue = append(queue, step)
		}
	}
	sorted := make([]Step, 0, len(reachable))
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		sorted = append(sorted, step)
		for _, id := range nextIDs(step) {
			inDegree[id]--
			if inDegree[id] == 0 {
				queue = append(queue, byID[id])
			}
		}
	}

	if len(sorted) != len(reachable) {
		var remaining []string
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		slices.Sort(remaining)
		return nil, fmt.Errorf("steps %v form a cycle", remaining)
	}
	return sorted, nil
}

func nextIDs(step Step) []string {
	ids := make([]string, 0, len(step.Next()))
	for _, next := range step.Next() {
		if !slices.Contains(ids, next.ID()) {
			ids = append(ids, next.ID())
		}
	}
	return ids
}

// FindStep returns the step with the given id and its DAG.
func (s *Scenario) FindStep(id string) (Step, *DAG, bool) {
	for _, d := range s.dags {
		for _, step := range d.steps {
			if step.ID() == id {
				return step, d, true
			}
		}
	}
	return nil, nil, false
}

// Start starts all the steps for the campaign. When a step fails to start,
// all the DAGs are stopped and the error is returned.
func (s *Scenario) Start(ctx context.Context, campaignKey string) error {
	for _, d := range s.dags {
		for _, step := range d.steps {
			ssc := StartStopContext{CampaignKey: campaignKey, ScenarioName: s.name, DAGID: d.id, StepID: step.ID()}
			if err := step.Start(ctx, ssc); err != nil {
				s.logger.ErrorContext(ctx, "step start failed", "scenario", s.name, "dag", d.id, "step", step.ID(), "error", err)
				s.Stop(ctx, campaignKey)
				return schema.NewErrorf(schema.ErrCodeStepFailed, "start step %s: %s", step.ID(), err.Error()).
					WithStep(step.ID()).WithCause(err)
			}
		}
	}
	return nil
}

// Stop stops all the steps for the campaign. Failures are logged.
func (s *Scenario) Stop(ctx context.Context, campaignKey string) {
	for _, d := range s.dags {
		for _, step := range d.steps {
			ssc := StartStopContext{CampaignKey: campaignKey, ScenarioName: s.name, DAGID: d.id, StepID: step.ID()}
			if err := step.Stop(ctx, ssc); err != nil {
				s.logger.WarnContext(ctx, "step stop failed", "scenario", s.name, "dag", d.id, "step", step.ID(), "error", err)
			}
		}
	}
}

// Destroy destroys every step of the scenario once.
func (s *Scenario) Destroy() error {
	var errs []error
	destroyed := make(map[string]bool)
	for _, d := range s.dags {
		for _, step := range d.steps {
			if destroyed[step.ID()] {
				continue
			}
			destroyed[step.ID()] = true
			if err := step.Destroy(); err != nil {
				s.logger.Warn("step destroy failed", "scenario", s.name, "step", step.ID(), "error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
