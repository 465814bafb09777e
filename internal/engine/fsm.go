package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// ValidMinionTransitions lists the allowed targets of each minion state.
var ValidMinionTransitions = map[schema.MinionState][]schema.MinionState{
	schema.MinionStateIdle:    {schema.MinionStateRunning, schema.MinionStateCancelled},
	schema.MinionStateRunning: {schema.MinionStateCompleted, schema.MinionStateCancelled},
}

type minionHookKey struct {
	from, to schema.MinionState
}

// MinionFSM manages the lifecycle transitions of the minions.
type MinionFSM struct {
	mu     sync.Mutex
	events events.Logger
	before map[minionHookKey][]TransitionHook
	after  map[minionHookKey][]TransitionHook
}

// NewMinionFSM creates a MinionFSM emitting an event for each transition.
func NewMinionFSM(logger events.Logger) *MinionFSM {
	if logger == nil {
		logger = events.Noop()
	}
	return &MinionFSM{
		events: logger,
		before: make(map[minionHookKey][]TransitionHook),
		after:  make(map[minionHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. An error of the
// hook aborts the transition.
func (f *MinionFSM) OnBefore(from, to schema.MinionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := minionHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *MinionFSM) OnAfter(from, to schema.MinionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := minionHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a transition of the minion, runs the hooks and emits
// the corresponding event. The caller keeps the state.
func (f *MinionFSM) Transition(ctx context.Context, minionID string, from, to schema.MinionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(ValidMinionTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid minion transition: %s -> %s", from, to).
			WithDetails(map[string]any{"minion": minionID, "from": string(from), "to": string(to)})
	}

	key := minionHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if name := minionEventName(to); name != "" {
		f.events.Log(ctx, events.LevelDebug, name, events.Tags{"minion": minionID, "from": string(from)})
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func minionEventName(to schema.MinionState) string {
	switch to {
	case schema.MinionStateRunning:
		return schema.EventMinionStarted
	case schema.MinionStateCompleted:
		return schema.EventMinionCompleted
	case schema.MinionStateCancelled:
		return schema.EventMinionCancelled
	default:
		return ""
	}
}
