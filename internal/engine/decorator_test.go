package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func TestTimeoutStepDecorator_CompletesInTime(t *testing.T) {
	ctx := testContext(t)
	registry := meters.NewInMemoryRegistry()
	step := NewTimeoutStepDecorator(10*time.Millisecond, newTestStep("fast", sleeping(5*time.Millisecond)), registry)

	sc := NewStepContextWithInput(testIdentity("fast"), Unit{})
	require.NoError(t, step.Execute(ctx, sc))
	assert.False(t, sc.IsExhausted())
	assert.Empty(t, sc.Errors())
	assert.Zero(t, registry.CounterTotal(schema.MeterStepTimeout))
}

func TestTimeoutStepDecorator_TimesOut(t *testing.T) {
	ctx := testContext(t)
	registry := meters.NewInMemoryRegistry()
	step := NewTimeoutStepDecorator(10*time.Millisecond, newTestStep("slow", sleeping(30*time.Millisecond)), registry)

	sc := NewStepContextWithInput(testIdentity("slow"), Unit{})
	err := step.Execute(ctx, sc)
	assert.ErrorIs(t, err, ErrStepTimeout)
	assert.True(t, sc.IsExhausted())
	require.Len(t, sc.Errors(), 1)
	assert.ErrorIs(t, sc.Errors()[0], ErrStepTimeout)
	assert.Equal(t, int64(1), registry.CounterValue(schema.MeterStepTimeout, meters.Tags{"step": "slow", "minion": "minion-1"}))
	assert.Equal(t, int64(1), registry.CounterTotal(schema.MeterStepTimeout))
}

func TestTimeoutStepDecorator_IgnoresContextOfTheStep(t *testing.T) {
	ctx := testContext(t)
	registry := meters.NewInMemoryRegistry()
	release := make(chan struct{})
	defer close(release)
	step := NewTimeoutStepDecorator(10*time.Millisecond, newTestStep("stubborn", func(context.Context, *StepContext, any) error {
		<-release
		return nil
	}), registry)

	sc := NewStepContextWithInput(testIdentity("stubborn"), Unit{})
	start := time.Now()
	assert.ErrorIs(t, step.Execute(ctx, sc), ErrStepTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, sc.IsExhausted())
}

func TestTimeoutStepDecorator_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	registry := meters.NewInMemoryRegistry()
	step := NewTimeoutStepDecorator(time.Second, newTestStep("slow", sleeping(time.Minute)), registry)

	time.AfterFunc(10*time.Millisecond, cancel)
	sc := NewStepContextWithInput(testIdentity("slow"), Unit{})
	err := step.Execute(ctx, sc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sc.IsExhausted())
	assert.Zero(t, registry.CounterTotal(schema.MeterStepTimeout))
}

func TestIterativeStepDecorator_SameInputEachIteration(t *testing.T) {
	ctx := testContext(t)
	inner := newTestStep("repeated", func(context.Context, *StepContext, any) error { return nil })
	step := NewIterativeStepDecorator(10, 0, inner)

	input := &struct{ name string }{name: "payload"}
	sc := NewStepContextWithInput(testIdentity("repeated"), input)
	require.NoError(t, step.Execute(ctx, sc))

	assert.Equal(t, int64(10), inner.executions.Load())
	inputs := inner.recordedInputs()
	require.Len(t, inputs, 10)
	for _, in := range inputs {
		assert.Same(t, input, in)
	}
	assert.Equal(t, int64(9), sc.StepIterationIndex())
}

func TestIterativeStepDecorator_DelayBetweenIterations(t *testing.T) {
	ctx := testContext(t)
	var mu sync.Mutex
	var starts []time.Time
	inner := newTestStep("repeated", func(context.Context, *StepContext, any) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	})
	step := NewIterativeStepDecorator(5, 10*time.Millisecond, inner)

	require.NoError(t, step.Execute(ctx, NewStepContextWithInput(testIdentity("repeated"), 1)))
	require.Len(t, starts, 5)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 10*time.Millisecond)
	}
}

func TestIterativeStepDecorator_FirstErrorStops(t *testing.T) {
	ctx := testContext(t)
	failure := errors.New("third iteration")
	inner := newTestStep("repeated", func(_ context.Context, sc *StepContext, _ any) error {
		if sc.StepIterationIndex() == 2 {
			return failure
		}
		return nil
	})
	step := NewIterativeStepDecorator(10, 0, inner)

	sc := NewStepContextWithInput(testIdentity("repeated"), 1)
	assert.ErrorIs(t, step.Execute(ctx, sc), failure)
	assert.Equal(t, int64(3), inner.executions.Load())
	assert.False(t, sc.IsExhausted())
}

func TestIterativeStepDecorator_UntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := newTestStep("repeated", func(context.Context, *StepContext, any) error { return nil })
	step := NewIterativeStepDecorator(-1, time.Millisecond, inner)

	time.AfterFunc(30*time.Millisecond, cancel)
	err := step.Execute(ctx, NewStepContextWithInput(testIdentity("repeated"), 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, inner.executions.Load(), int64(1))
}

func TestIterativeStepDecorator_ForwardsOutput(t *testing.T) {
	ctx := testContext(t)
	step := NewIterativeStepDecorator(3, 0, newTestStep("repeated", nil))

	sc := NewStepContextWithInput(testIdentity("repeated"), "v")
	require.NoError(t, step.Execute(ctx, sc))
	sc.Close()
	var values []any
	for record := range sc.Output() {
		values = append(values, record.Value)
	}
	assert.Equal(t, []any{"v", "v", "v"}, values)
}

func TestDelayedStepDecorator(t *testing.T) {
	ctx := testContext(t)
	inner := newTestStep("delayed", nil)
	step := NewDelayedStepDecorator(20*time.Millisecond, inner)

	start := time.Now()
	sc := NewStepContextWithInput(testIdentity("delayed"), 1)
	require.NoError(t, step.Execute(ctx, sc))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), inner.executions.Load())
}

func TestDecorate_Order(t *testing.T) {
	inner := newTestStep("s1", nil)
	inner.SetRetryPolicy(NoRetry)

	step := Decorate(inner, DecorationConfig{
		Iterations: 2,
		Timeout:    time.Second,
		Delay:      time.Millisecond,
	}, meters.Noop())

	delayed, ok := step.(*DelayedStepDecorator)
	require.True(t, ok)
	timeout, ok := delayed.Decorated().(*TimeoutStepDecorator)
	require.True(t, ok)
	iterative, ok := timeout.Decorated().(*IterativeStepDecorator)
	require.True(t, ok)
	assert.Same(t, inner, iterative.Decorated())
	assert.Same(t, inner, Unwrap(step))

	assert.Equal(t, "s1", step.ID())
	assert.Nil(t, step.RetryPolicy())

	next := newTestStep("s2", nil)
	step.AddNext(next)
	require.Len(t, inner.Next(), 1)
	assert.Same(t, next, inner.Next()[0])

	assert.Same(t, inner, Decorate(inner, DecorationConfig{}, nil))
}

func TestIsErrorProcessing_ThroughDecorators(t *testing.T) {
	reporter := newErrorProcessingStep("reporter")
	assert.True(t, IsErrorProcessing(NewTimeoutStepDecorator(time.Second, reporter, nil)))
	assert.False(t, IsErrorProcessing(newTestStep("plain", nil)))
}
