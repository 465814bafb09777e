package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskGroup_JoinWaitsForNestedTasks(t *testing.T) {
	ctx := testContext(t)
	group := NewTaskGroup(context.Background())

	var ran atomic.Int64
	var spawn func(depth int) func(ctx context.Context) error
	spawn = func(depth int) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			if depth > 0 {
				return group.Launch(ctx, spawn(depth-1))
			}
			return nil
		}
	}
	require.NoError(t, group.Launch(group.Context(), spawn(5)))
	require.NoError(t, group.Join(ctx))

	assert.Equal(t, int64(6), ran.Load())
	assert.Zero(t, group.Active())
	m := group.Metrics()
	assert.Equal(t, int64(6), m.Completed)
	assert.Zero(t, m.Active)
}

func TestTaskGroup_CancelUnblocksTasksAndRefusesNewOnes(t *testing.T) {
	ctx := testContext(t)
	group := NewTaskGroup(context.Background())

	started := make(chan struct{})
	require.NoError(t, group.Launch(group.Context(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	group.Cancel()

	require.NoError(t, group.Join(ctx))
	assert.Equal(t, int64(1), group.Metrics().Failed)
	assert.ErrorIs(t, group.Launch(ctx, func(context.Context) error { return nil }), ErrMinionCancelled)
}

func TestTaskGroup_RecoversPanics(t *testing.T) {
	ctx := testContext(t)
	group := NewTaskGroup(context.Background())

	require.NoError(t, group.Launch(ctx, func(context.Context) error { panic("boom") }))
	require.NoError(t, group.Launch(ctx, func(context.Context) error { return errors.New("failed") }))
	require.NoError(t, group.Join(ctx))

	m := group.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(2), m.Failed)
}

func TestTaskGroup_JoinHonoursContext(t *testing.T) {
	group := NewTaskGroup(context.Background())
	defer group.Cancel()
	require.NoError(t, group.Launch(group.Context(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := group.Join(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, group.Active())

	group.Cancel()
	require.NoError(t, group.Join(testContext(t)))
}
