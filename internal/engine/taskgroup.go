package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// TaskMetrics tracks the tasks of a TaskGroup.
type TaskMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// TaskGroup runs the goroutines of a minion. All the tasks share a context
// cancelled by Cancel, and Join waits for all of them, including the tasks
// launched by other tasks.
type TaskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active int
	idle   chan struct{}

	metrics TaskMetrics
}

// NewTaskGroup creates a group whose tasks are cancelled with parent.
func NewTaskGroup(parent context.Context) *TaskGroup {
	ctx, cancel := context.WithCancel(parent)
	idle := make(chan struct{})
	close(idle)
	return &TaskGroup{ctx: ctx, cancel: cancel, idle: idle}
}

// Context returns the context shared by the tasks.
func (g *TaskGroup) Context() context.Context { return g.ctx }

// Launch runs fn in a new goroutine with ctx, which should derive from
// Context to be cancelled with the group. It returns ErrMinionCancelled
// once the group is cancelled. A panic in fn is recovered and counted as a
// failure.
func (g *TaskGroup) Launch(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.mu.Unlock()
		return ErrMinionCancelled
	}
	if g.active == 0 {
		g.idle = make(chan struct{})
	}
	g.active++
	atomic.AddInt64(&g.metrics.Active, 1)
	g.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&g.metrics.Panics, 1)
				atomic.AddInt64(&g.metrics.Failed, 1)
			}
			g.done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&g.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&g.metrics.Completed, 1)
		}
	}()
	return nil
}

func (g *TaskGroup) done() {
	atomic.AddInt64(&g.metrics.Active, -1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
}

// Join blocks until no task is running or ctx is done.
func (g *TaskGroup) Join(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.active == 0 {
			g.mu.Unlock()
			return nil
		}
		idle := g.idle
		g.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("join interrupted with %d active tasks: %w", g.Active(), ctx.Err())
		}
	}
}

// Cancel cancels the context of all the tasks and refuses new ones.
func (g *TaskGroup) Cancel() {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
}

// Active returns the count of running tasks.
func (g *TaskGroup) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Metrics returns a snapshot of the task metrics.
func (g *TaskGroup) Metrics() TaskMetrics {
	return TaskMetrics{
		Active:    atomic.LoadInt64(&g.metrics.Active),
		Completed: atomic.LoadInt64(&g.metrics.Completed),
		Failed:    atomic.LoadInt64(&g.metrics.Failed),
		Panics:    atomic.LoadInt64(&g.metrics.Panics),
	}
}
