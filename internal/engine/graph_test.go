package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// lifecycleStep records the lifecycle calls.
type lifecycleStep struct {
	testStep
	startErr  error
	started   []StartStopContext
	stopped   []StartStopContext
	inits     int
	destroyed int
}

func newLifecycleStep(id string) *lifecycleStep {
	return &lifecycleStep{testStep: testStep{BaseStep: NewBaseStep(id, nil)}}
}

func (s *lifecycleStep) Init(context.Context) error { s.inits++; return nil }
func (s *lifecycleStep) Destroy() error             { s.destroyed++; return nil }

func (s *lifecycleStep) Start(_ context.Context, ssc StartStopContext) error {
	s.started = append(s.started, ssc)
	return s.startErr
}

func (s *lifecycleStep) Stop(_ context.Context, ssc StartStopContext) error {
	s.stopped = append(s.stopped, ssc)
	return nil
}

func TestScenario_BuildSortsSteps(t *testing.T) {
	ctx := testContext(t)
	scenario := NewScenario("s", WithMinionsCount(3))
	dag := scenario.NewDAG("d", ScenarioStart())

	root, a, b, c := newLifecycleStep("root"), newLifecycleStep("a"), newLifecycleStep("b"), newLifecycleStep("c")
	dag.AddRoot(root)
	root.AddNext(a)
	root.AddNext(b)
	a.AddNext(c)
	b.AddNext(c)

	require.NoError(t, scenario.Build(ctx))
	assert.Equal(t, 4, dag.StepCount())
	ids := make([]string, 0, 4)
	for _, s := range dag.Steps() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"root", "a", "b", "c"}, ids)
	assert.Equal(t, 1, c.inits)
	assert.True(t, dag.IsScenarioStart())
	assert.Equal(t, 3, scenario.Profile().MinionsCount)
	assert.Same(t, dag, scenario.DAG("d"))
	assert.Same(t, scenario, dag.Scenario())

	step, owner, ok := scenario.FindStep("c")
	require.True(t, ok)
	assert.Same(t, c, step)
	assert.Same(t, dag, owner)
	_, _, ok = scenario.FindStep("unknown")
	assert.False(t, ok)

	assert.ErrorIs(t, scenario.Build(ctx), schema.NewError(schema.ErrCodeConflict, ""))
}

func TestScenario_BuildRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Scenario)
		code  string
	}{
		{
			name:  "no DAG",
			setup: func(*Scenario) {},
			code:  schema.ErrCodeValidation,
		},
		{
			name:  "no root",
			setup: func(s *Scenario) { s.NewDAG("d") },
			code:  schema.ErrCodeValidation,
		},
		{
			name: "cycle",
			setup: func(s *Scenario) {
				root, a, b := newTestStep("root", nil), newTestStep("a", nil), newTestStep("b", nil)
				root.AddNext(a)
				a.AddNext(b)
				b.AddNext(a)
				s.NewDAG("d").AddRoot(root)
			},
			code: schema.ErrCodeCycleDetected,
		},
		{
			name: "duplicate step id",
			setup: func(s *Scenario) {
				root := newTestStep("root", nil)
				root.AddNext(newTestStep("a", nil))
				root.AddNext(newTestStep("a", nil))
				s.NewDAG("d").AddRoot(root)
			},
			code: schema.ErrCodeValidation,
		},
		{
			name: "step in two DAGs",
			setup: func(s *Scenario) {
				shared := newTestStep("shared", nil)
				s.NewDAG("d1").AddRoot(shared)
				s.NewDAG("d2").AddRoot(shared)
			},
			code: schema.ErrCodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := NewScenario("s")
			tt.setup(scenario)
			err := scenario.Build(testContext(t))
			require.Error(t, err)
			var engErr *schema.EngineError
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, tt.code, engErr.Code)
		})
	}
}

func TestScenario_DefaultRetryPolicy(t *testing.T) {
	policy := BackoffRetryPolicy{MaxAttempts: 2}
	scenario := NewScenario("s", WithDefaultRetryPolicy(policy))
	withPolicy := newTestStep("with", nil)
	withPolicy.SetRetryPolicy(NoRetry)
	without := newTestStep("without", nil)
	decorated := newTestStep("decorated", nil)

	dag := scenario.NewDAG("d")
	dag.AddRoot(withPolicy)
	withPolicy.AddNext(without)
	without.AddNext(NewDelayedStepDecorator(0, decorated))

	require.NoError(t, scenario.Build(testContext(t)))
	assert.Equal(t, NoRetry, withPolicy.RetryPolicy())
	assert.Equal(t, policy, without.RetryPolicy())
	assert.Equal(t, policy, decorated.RetryPolicy())
}

func TestScenario_Lifecycle(t *testing.T) {
	ctx := testContext(t)
	scenario := NewScenario("s")
	root, next := newLifecycleStep("root"), newLifecycleStep("next")
	root.AddNext(next)
	scenario.NewDAG("d").AddRoot(root)
	other := newLifecycleStep("other")
	scenario.NewDAG("d2", Singleton()).AddRoot(other)
	require.NoError(t, scenario.Build(ctx))
	assert.True(t, scenario.DAG("d2").Singleton())

	require.NoError(t, scenario.Start(ctx, "campaign-1"))
	require.Len(t, next.started, 1)
	assert.Equal(t, StartStopContext{CampaignKey: "campaign-1", ScenarioName: "s", DAGID: "d", StepID: "next"}, next.started[0])

	scenario.Stop(ctx, "campaign-1")
	assert.Len(t, other.stopped, 1)

	require.NoError(t, scenario.Destroy())
	assert.Equal(t, 1, root.destroyed)
	assert.Equal(t, 1, next.destroyed)
	assert.Equal(t, 1, other.destroyed)
}

func TestScenario_StartFailureStopsEverything(t *testing.T) {
	ctx := testContext(t)
	scenario := NewScenario("s")
	first, failing := newLifecycleStep("first"), newLifecycleStep("failing")
	failing.startErr = errors.New("cannot start")
	scenario.NewDAG("d1").AddRoot(first)
	scenario.NewDAG("d2").AddRoot(failing)
	require.NoError(t, scenario.Build(ctx))

	err := scenario.Start(ctx, "campaign-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.startErr)
	assert.Len(t, first.stopped, 1)
	assert.Len(t, failing.stopped, 1)
}
