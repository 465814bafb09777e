package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

type minionKey struct{}

// MinionFrom returns the minion carried by ctx, or nil.
func MinionFrom(ctx context.Context) *Minion {
	m, _ := ctx.Value(minionKey{}).(*Minion)
	return m
}

// MinionConfig describes a minion.
type MinionConfig struct {
	// ID defaults to a random UUID.
	ID           string
	CampaignKey  string
	ScenarioName string
	// Singleton minions run the singleton DAGs, once per campaign.
	Singleton bool
	// PauseAtStart keeps the minion idle until Start is called.
	PauseAtStart bool
	Events       events.Logger
	Logger       *slog.Logger
}

// Minion is a simulated user: it owns the tasks executing the steps of a
// DAG on its behalf.
type Minion struct {
	id           string
	campaignKey  string
	scenarioName string
	singleton    bool

	ctx    context.Context
	group  *TaskGroup
	fsm    *MinionFSM
	logger *slog.Logger

	mu    sync.Mutex
	state schema.MinionState

	started      chan struct{}
	startOnce    sync.Once
	completeOnce sync.Once
	onComplete   []func()
}

// NewMinion creates a minion whose tasks are cancelled with ctx.
func NewMinion(ctx context.Context, cfg MinionConfig) *Minion {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Minion{
		id:           cfg.ID,
		campaignKey:  cfg.CampaignKey,
		scenarioName: cfg.ScenarioName,
		singleton:    cfg.Singleton,
		fsm:          NewMinionFSM(cfg.Events),
		logger:       cfg.Logger,
		state:        schema.MinionStateIdle,
		started:      make(chan struct{}),
	}

	mctx := context.WithValue(ctx, minionKey{}, m)
	mctx = logging.WithMinion(mctx, m.id)
	if m.campaignKey != "" {
		mctx = logging.WithCampaign(mctx, m.campaignKey)
	}
	if m.scenarioName != "" {
		mctx = logging.WithScenario(mctx, m.scenarioName)
	}
	m.group = NewTaskGroup(mctx)
	m.ctx = m.group.Context()

	if !cfg.PauseAtStart {
		_ = m.Start(ctx)
	}
	return m
}

func (m *Minion) ID() string           { return m.id }
func (m *Minion) CampaignKey() string  { return m.campaignKey }
func (m *Minion) ScenarioName() string { return m.scenarioName }
func (m *Minion) Singleton() bool      { return m.singleton }

// Context returns the context of the tasks of the minion. It carries the
// minion and its logging correlation.
func (m *Minion) Context() context.Context { return m.ctx }

// State returns the lifecycle state.
func (m *Minion) State() schema.MinionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start releases the minion. Calling it again is a no-op.
func (m *Minion) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		if err = m.transition(ctx, schema.MinionStateRunning); err == nil {
			close(m.started)
		}
	})
	return err
}

// WaitForStart blocks until the minion is started. It returns
// ErrMinionCancelled if the minion is cancelled first.
func (m *Minion) WaitForStart(ctx context.Context) error {
	select {
	case <-m.started:
		return nil
	case <-m.ctx.Done():
		return ErrMinionCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch runs fn as a task of the minion.
func (m *Minion) Launch(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.group.Launch(ctx, fn)
}

// OnComplete registers fn to run once, when the minion completes or is
// cancelled.
func (m *Minion) OnComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

// Join waits for all the tasks of the minion and then completes it.
func (m *Minion) Join(ctx context.Context) error {
	if err := m.group.Join(ctx); err != nil {
		return err
	}
	if m.State() == schema.MinionStateRunning {
		if err := m.transition(ctx, schema.MinionStateCompleted); err != nil {
			return err
		}
	}
	m.complete()
	return nil
}

// Cancel interrupts all the tasks of the minion.
func (m *Minion) Cancel(ctx context.Context) {
	m.group.Cancel()
	if s := m.State(); s == schema.MinionStateIdle || s == schema.MinionStateRunning {
		if err := m.transition(ctx, schema.MinionStateCancelled); err != nil {
			m.logger.DebugContext(ctx, "minion cancellation", "minion", m.id, "error", err)
		}
	}
	m.complete()
}

// ActiveTasks returns the count of running tasks.
func (m *Minion) ActiveTasks() int { return m.group.Active() }

// TaskMetrics returns the metrics of the tasks of the minion.
func (m *Minion) TaskMetrics() TaskMetrics { return m.group.Metrics() }

func (m *Minion) transition(ctx context.Context, to schema.MinionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fsm.Transition(ctx, m.id, m.state, to); err != nil {
		return err
	}
	m.state = to
	return nil
}

func (m *Minion) complete() {
	m.completeOnce.Do(func() {
		m.mu.Lock()
		hooks := m.onComplete
		m.onComplete = nil
		m.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}
