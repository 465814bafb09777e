// Package scheduler launches jobs, such as campaigns, on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Job is executed at each activation of the schedule. run counts the
// activations from 1.
type Job func(ctx context.Context, run int64) error

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression with an optional seconds field, or
// a descriptor such as "@hourly" or "@every 5m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid schedule %q: %s", spec, err.Error()).
			WithCause(err)
	}
	return schedule, nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxRuns stops the scheduler after n activations, 0 for no limit.
func WithMaxRuns(n int64) Option {
	return func(s *Scheduler) { s.maxRuns = n }
}

// Scheduler executes a job at each activation of a schedule. An activation
// happening while the previous run is still in flight is skipped.
type Scheduler struct {
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
	maxRuns  int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	jobs     sync.WaitGroup
	inflight atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// NewScheduler creates a Scheduler.
func NewScheduler(schedule cron.Schedule, job Job, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		schedule: schedule,
		job:      job,
		logger:   logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduling loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(schedCtx, s.done)
	s.logger.InfoContext(ctx, "scheduler started", "next_run", s.NextRun(time.Now()))
	return nil
}

// Done returns a channel closed once the scheduler stopped, either with Stop
// or after the last of its runs. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.jobs.Wait()

	for s.maxRuns <= 0 || s.runs.Load() < s.maxRuns {
		next := s.schedule.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// fire runs the job in the background unless a run is in flight.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.inflight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.WarnContext(ctx, "previous run still in flight, activation skipped")
		return
	}
	run := s.runs.Add(1)
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.inflight.Store(false)

		s.logger.InfoContext(ctx, "scheduled run started", "run", run)
		if err := s.job(ctx, run); err != nil {
			s.failed.Add(1)
			s.logger.ErrorContext(ctx, "scheduled run failed", "run", run, "error", err)
			return
		}
		s.logger.InfoContext(ctx, "scheduled run completed", "run", run)
	}()
}

// NextRun returns the next activation after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Runs returns the count of launched runs.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns the count of activations skipped because of a run in
// flight.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Failed returns the count of runs which returned an error.
func (s *Scheduler) Failed() int64 { return s.failed.Load() }

// Stop cancels the scheduling loop and the run in flight, and waits for
// them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.logger.Info("scheduler stopped", "runs", s.Runs())
}
