// Package steps provides the built-in step kinds and builds executable
// scenarios from their definitions.
package steps

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/engine"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/meters"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// Services are the collaborators shared by the steps of a scenario.
type Services struct {
	Topics *Topics
	Events events.Logger
	Meters meters.Registry
	Logger *slog.Logger
}

func (s Services) withDefaults() Services {
	if s.Topics == nil {
		s.Topics = NewTopics()
	}
	if s.Events == nil {
		s.Events = events.Noop()
	}
	if s.Meters == nil {
		s.Meters = meters.Noop()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// Factory creates the step described by def. The decorators and the retry
// policy of the definition are applied by the builder.
type Factory func(def schema.StepDefinition, services Services) (engine.Step, error)

// Kind describes a type of step that can be declared in a scenario.
type Kind struct {
	Name        string
	Description string
	// ParamsSchema is the JSON Schema of the parameters, nil to accept any.
	ParamsSchema json.RawMessage
	Factory      Factory
}

// KindInfo is a summary of a registered kind for listing.
type KindInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is the thread-safe catalog of the step kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// Register adds a kind to the registry. Returns error on duplicate name.
func (r *Registry) Register(kind Kind) error {
	if kind.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step kind name is empty")
	}
	if kind.Factory == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step kind %q has no factory", kind.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[kind.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step kind %q already registered", kind.Name)
	}

	r.kinds[kind.Name] = kind
	return nil
}

// Get retrieves a kind by name.
func (r *Registry) Get(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.kinds[name]
	if !ok {
		return Kind{}, schema.NewErrorf(schema.ErrCodeNotFound, "step kind %q not registered", name)
	}
	return kind, nil
}

// Has checks if a kind is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[name]
	return ok
}

// ParamsSchema returns the JSON Schema of the parameters of the kind, if any.
func (r *Registry) ParamsSchema(name string) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[name].ParamsSchema
}

// List returns info for all registered kinds, sorted by name.
func (r *Registry) List() []KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]KindInfo, 0, len(r.kinds))
	for _, k := range r.kinds {
		infos = append(infos, KindInfo{Name: k.Name, Description: k.Description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}
