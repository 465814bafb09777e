// Package campaign drives the local execution of a scenario: it starts the
// minions at the rate of the execution profile, runs the DAGs on their
// behalf and reports the outcome once they all completed.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/store"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// CampaignStore persists the campaign records. store.Store satisfies it.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *store.Campaign) error
	UpdateCampaign(ctx context.Context, key string, update store.CampaignUpdate) error
}

// TopicSet is the set of topics the DAGs of a scenario exchange records
// through.
type TopicSet interface {
	// CompleteAll tells the consumers that no more records will be produced.
	CompleteAll()
	CloseAll()
}

type noTopics struct{}

func (noTopics) CompleteAll() {}
func (noTopics) CloseAll()    {}

// Config describes a campaign. Zero values fall back to the execution
// profile of the scenario.
type Config struct {
	// Key identifies the campaign, a random UUID by default.
	Key        string
	Minions    int
	StartRate  float64
	StartBurst int
	// Timeout bounds the whole campaign, 0 for none.
	Timeout time.Duration
}

func (c Config) withDefaults(profile engine.ExecutionProfile) Config {
	if c.Key == "" {
		c.Key = uuid.NewString()
	}
	if c.Minions <= 0 {
		c.Minions = max(profile.MinionsCount, 1)
	}
	if c.StartRate <= 0 {
		c.StartRate = profile.StartRate
	}
	if c.StartBurst <= 0 {
		c.StartBurst = max(profile.StartBurst, 1)
	}
	return c
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithEvents sets the events logger of the campaigns and their minions.
func WithEvents(logger events.Logger) Option {
	return func(l *Launcher) { l.events = logger }
}

// WithMeters sets the registry receiving the meters of the executions, in
// addition to the one backing the report.
func WithMeters(registry meters.Registry) Option {
	return func(l *Launcher) { l.meters = registry }
}

// WithStore persists the campaign records into s.
func WithStore(s CampaignStore) Option {
	return func(l *Launcher) { l.store = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// WithTracer sets the tracer of the step executions.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Launcher) { l.tracer = tracer }
}

// WithShutdownTimeout bounds the wait for the minions of an interrupted
// campaign.
func WithShutdownTimeout(d time.Duration) Option {
	return func(l *Launcher) { l.shutdownTimeout = d }
}

// Launcher executes campaigns in the current process.
type Launcher struct {
	events          events.Logger
	meters          meters.Registry
	store           CampaignStore
	logger          *slog.Logger
	tracer          trace.Tracer
	shutdownTimeout time.Duration
}

// NewLauncher creates a Launcher.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{
		events:          events.Noop(),
		meters:          meters.Noop(),
		logger:          slog.Default(),
		tracer:          noop.NewTracerProvider().Tracer("qalipsis/campaign"),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes a campaign of scenario, which must be built, and returns its
// report. The singleton DAGs run once on a dedicated minion, the other DAGs
// run on each of the minions. Once the load minions or the singleton minion
// completed, topics are completed so that their consumers can end. topics
// are closed before Run returns and may be nil.
//
// The returned error is non-nil when the campaign could not run to its end,
// the report is then still returned when the campaign was started.
func (l *Launcher) Run(ctx context.Context, scenario *engine.Scenario, topics TopicSet, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults(scenario.Profile())
	if topics == nil {
		topics = noTopics{}
	}
	defer topics.CloseAll()

	ctx = logging.WithScenario(logging.WithCampaign(ctx, cfg.Key), scenario.Name())
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	report := &Report{
		Campaign:  cfg.Key,
		Scenario:  scenario.Name(),
		Minions:   cfg.Minions,
		StartedAt: time.Now().UTC(),
	}
	if l.store != nil {
		err := l.store.CreateCampaign(ctx, &store.Campaign{
			Key:       cfg.Key,
			Scenario:  scenario.Name(),
			Status:    store.CampaignRunning,
			Minions:   cfg.Minions,
			StartedAt: report.StartedAt,
		})
		if err != nil {
			return nil, err
		}
	}

	l.events.Log(ctx, events.LevelInfo, schema.EventCampaignStarted, events.Tags{"minions": strconv.Itoa(cfg.Minions)})
	l.logger.InfoContext(ctx, "campaign started", "minions", cfg.Minions, "start_rate", cfg.StartRate)

	collected := meters.NewInMemoryRegistry()
	runErr := l.execute(ctx, scenario, topics, cfg, meters.Tee(l.meters, collected), report)
	return report, l.complete(ctx, report, collected, runErr)
}

func (l *Launcher) execute(ctx context.Context, scenario *engine.Scenario, topics TopicSet, cfg Config, registry meters.Registry, report *Report) error {
	if err := scenario.Start(ctx, cfg.Key); err != nil {
		return err
	}
	defer scenario.Stop(context.WithoutCancel(ctx), cfg.Key)

	runner := engine.NewRunner(
		engine.WithEventsLogger(l.events),
		engine.WithMeterRegistry(registry),
		engine.WithLogger(l.logger),
		engine.WithTracer(l.tracer),
	)

	var singletonDAGs, loadDAGs []*engine.DAG
	for _, dag := range scenario.DAGs() {
		if dag.Singleton() {
			singletonDAGs = append(singletonDAGs, dag)
		} else {
			loadDAGs = append(loadDAGs, dag)
		}
	}

	var all []*engine.Minion
	singletonDone := make(chan error, 1)
	if len(singletonDAGs) > 0 {
		singleton := l.newMinion(ctx, scenario, cfg.Key, true)
		all = append(all, singleton)
		if err := runDAGs(ctx, runner, singleton, singletonDAGs); err != nil {
			l.abort(ctx, all)
			return err
		}
		go func() {
			err := singleton.Join(ctx)
			topics.CompleteAll()
			singletonDone <- err
		}()
	} else {
		singletonDone <- nil
	}

	load, err := l.rampUp(ctx, runner, scenario, cfg, loadDAGs)
	report.StartedMinions = len(load)
	all = append(all, load...)
	if err == nil {
		for _, m := range load {
			if err = m.Join(ctx); err != nil {
				break
			}
		}
	}
	topics.CompleteAll()

	if err != nil {
		l.abort(ctx, all)
	}
	if singletonErr := <-singletonDone; err == nil && singletonErr != nil {
		err = singletonErr
		l.abort(ctx, all)
	}
	return err
}

// rampUp creates the load minions at the start rate and runs the DAGs on
// each of them.
func (l *Launcher) rampUp(ctx context.Context, runner *engine.Runner, scenario *engine.Scenario, cfg Config, dags []*engine.DAG) ([]*engine.Minion, error) {
	if len(dags) == 0 {
		return nil, nil
	}
	limiter := rate.NewLimiter(rate.Inf, cfg.StartBurst)
	if cfg.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StartRate), cfg.StartBurst)
	}

	minions := make([]*engine.Minion, 0, cfg.Minions)
	for i := 0; i < cfg.Minions; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return minions, err
		}
		m := l.newMinion(ctx, scenario, cfg.Key, false)
		minions = append(minions, m)
		if err := runDAGs(ctx, runner, m, dags); err != nil {
			return minions, err
		}
	}
	return minions, nil
}

func runDAGs(ctx context.Context, runner *engine.Runner, minion *engine.Minion, dags []*engine.DAG) error {
	for _, dag := range dags {
		if err := runner.Run(ctx, minion, dag); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) newMinion(ctx context.Context, scenario *engine.Scenario, campaignKey string, singleton bool) *engine.Minion {
	return engine.NewMinion(ctx, engine.MinionConfig{
		CampaignKey:  campaignKey,
		ScenarioName: scenario.Name(),
		Singleton:    singleton,
		Events:       l.events,
		Logger:       l.logger,
	})
}

// abort cancels the minions and waits for their tasks to exit.
func (l *Launcher) abort(ctx context.Context, minions []*engine.Minion) {
	grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.shutdownTimeout)
	defer cancel()
	for _, m := range minions {
		m.Cancel(grace)
	}
	for _, m := range minions {
		if err := m.Join(grace); err != nil {
			l.logger.WarnContext(ctx, "minion did not stop", "minion", m.ID(), "error", err)
		}
	}
}

// complete fills the report, persists it and logs the outcome of the
// campaign. It returns the error of the campaign.
func (l *Launcher) complete(ctx context.Context, report *Report, collected *meters.InMemoryRegistry, runErr error) error {
	report.fill(collected)
	report.CompletedAt = time.Now().UTC()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	var err error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = schema.NewError(schema.ErrCodeTimeout, "the campaign timed out").WithCause(ctx.Err())
		report.Status = store.CampaignFailed
	case ctx.Err() != nil:
		err = schema.NewError(schema.ErrCodeCancelled, "the campaign was cancelled").WithCause(ctx.Err())
		report.Status = store.CampaignAborted
	case runErr != nil:
		err = runErr
		report.Status = store.CampaignFailed
	case report.FailedAssertions > 0:
		report.Status = store.CampaignFailed
		report.Error = strconv.FormatInt(report.FailedAssertions, 10) + " assertion(s) failed"
	default:
		report.Status = store.CampaignCompleted
	}
	if err != nil {
		report.Error = err.Error()
	}

	// The campaign context may be done: the outcome is recorded anyway.
	ctx = context.WithoutCancel(ctx)
	tags := events.Tags{
		"status":          string(report.Status),
		"executed-steps":  strconv.FormatInt(report.ExecutedSteps, 10),
		"failed-steps":    strconv.Itoa(report.FailedSteps),
		"started-minions": strconv.Itoa(report.StartedMinions),
	}
	if report.Status == store.CampaignCompleted {
		l.events.Log(ctx, events.LevelInfo, schema.EventCampaignCompleted, tags)
		l.logger.InfoContext(ctx, "campaign completed", "duration", report.Duration, "executed_steps", report.ExecutedSteps)
	} else {
		tags["error"] = report.Error
		l.events.Log(ctx, events.LevelError, schema.EventCampaignFailed, tags)
		l.logger.ErrorContext(ctx, "campaign failed", "status", report.Status, "error", report.Error)
	}

	if l.store != nil {
		if storeErr := l.persist(ctx, report); storeErr != nil {
			l.logger.ErrorContext(ctx, "cannot persist the campaign report", "error", storeErr)
			if err == nil {
				err = storeErr
			}
		}
	}
	return err
}

func (l *Launcher) persist(ctx context.Context, report *Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "cannot encode the campaign report").WithCause(err)
	}
	update := store.CampaignUpdate{
		Status:      &report.Status,
		Report:      raw,
		CompletedAt: &report.CompletedAt,
	}
	if report.Error != "" {
		update.Error = &report.Error
	}
	return l.store.UpdateCampaign(ctx, report.Campaign, update)
}
