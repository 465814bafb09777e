package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

func TestMinion_Lifecycle(t *testing.T) {
	ctx := testContext(t)
	recorder := &recordingLogger{}
	m := NewMinion(ctx, MinionConfig{ID: "m-1", CampaignKey: "c-1", ScenarioName: "s-1", Events: recorder})
	assert.Equal(t, schema.MinionStateRunning, m.State())
	require.NoError(t, m.WaitForStart(ctx))

	var completions atomic.Int64
	m.OnComplete(func() { completions.Add(1) })

	require.NoError(t, m.Launch(m.Context(), func(ctx context.Context) error {
		assert.Same(t, m, MinionFrom(ctx))
		assert.Equal(t, "m-1", logging.Minion(ctx))
		assert.Equal(t, "c-1", logging.Campaign(ctx))
		return nil
	}))
	require.NoError(t, m.Join(ctx))
	require.NoError(t, m.Join(ctx))

	assert.Equal(t, schema.MinionStateCompleted, m.State())
	assert.Equal(t, int64(1), completions.Load())
	assert.Equal(t, []string{schema.EventMinionStarted, schema.EventMinionCompleted}, recorder.names())
}

func TestMinion_PauseAtStart(t *testing.T) {
	ctx := testContext(t)
	m := NewMinion(ctx, MinionConfig{PauseAtStart: true})
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, schema.MinionStateIdle, m.State())

	waited := make(chan error, 1)
	go func() { waited <- m.WaitForStart(ctx) }()

	select {
	case <-waited:
		t.Fatal("the minion should wait for its start")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, <-waited)
	assert.Equal(t, schema.MinionStateRunning, m.State())
	require.NoError(t, m.Join(ctx))
}

func TestMinion_CancelInterruptsTasks(t *testing.T) {
	ctx := testContext(t)
	m := NewMinion(ctx, MinionConfig{})

	var completions atomic.Int64
	m.OnComplete(func() { completions.Add(1) })

	started := make(chan struct{})
	require.NoError(t, m.Launch(m.Context(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	assert.Equal(t, 1, m.ActiveTasks())

	m.Cancel(ctx)
	require.NoError(t, m.Join(ctx))
	assert.Equal(t, schema.MinionStateCancelled, m.State())
	assert.Equal(t, int64(1), completions.Load())
	assert.ErrorIs(t, m.Launch(ctx, func(context.Context) error { return nil }), ErrMinionCancelled)
	assert.ErrorIs(t, m.WaitForStart(ctx), ErrMinionCancelled)
}

func TestMinion_CancelBeforeStart(t *testing.T) {
	ctx := testContext(t)
	m := NewMinion(ctx, MinionConfig{PauseAtStart: true})
	m.Cancel(ctx)
	assert.Equal(t, schema.MinionStateCancelled, m.State())
	assert.ErrorIs(t, m.WaitForStart(ctx), ErrMinionCancelled)
}

func TestMinionFSM_Transitions(t *testing.T) {
	ctx := testContext(t)
	fsm := NewMinionFSM(nil)

	var calls []string
	fsm.OnBefore(schema.MinionStateIdle, schema.MinionStateRunning, func(from, to string) error {
		calls = append(calls, "before:"+from+">"+to)
		return nil
	})
	fsm.OnAfter(schema.MinionStateIdle, schema.MinionStateRunning, func(from, to string) error {
		calls = append(calls, "after:"+from+">"+to)
		return nil
	})

	require.NoError(t, fsm.Transition(ctx, "m-1", schema.MinionStateIdle, schema.MinionStateRunning))
	assert.Equal(t, []string{"before:idle>running", "after:idle>running"}, calls)

	err := fsm.Transition(ctx, "m-1", schema.MinionStateCompleted, schema.MinionStateRunning)
	assert.ErrorIs(t, err, schema.NewError(schema.ErrCodeInvalidTransition, ""))
}
