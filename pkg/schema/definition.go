package schema

import "time"

// ScenarioDefinition is the serializable form of a scenario, as loaded from
// YAML or JSON before being built into executable DAGs.
type ScenarioDefinition struct {
	Name       string            `json:"name" yaml:"name"`
	Minions    int               `json:"minions,omitempty" yaml:"minions,omitempty"`
	StartRate  float64           `json:"start_rate,omitempty" yaml:"start_rate,omitempty"` // minions started per second, 0 starts them all at once
	StartBurst int               `json:"start_burst,omitempty" yaml:"start_burst,omitempty"`
	Retry      *RetryPolicy      `json:"retry,omitempty" yaml:"retry,omitempty"` // default policy of the steps without one
	Topics     []TopicDefinition `json:"topics,omitempty" yaml:"topics,omitempty"`
	DAGs       []DAGDefinition   `json:"dags" yaml:"dags"`
}

// DAGDefinition describes a DAG of steps. The roots are the steps no other
// step of the DAG points to, in declaration order.
type DAGDefinition struct {
	ID        string           `json:"id" yaml:"id"`
	Singleton bool             `json:"singleton,omitempty" yaml:"singleton,omitempty"`
	Steps     []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition describes a single step of a DAG.
type StepDefinition struct {
	ID             string         `json:"id" yaml:"id"`
	Kind           string         `json:"kind" yaml:"kind"`                         // registered step kind (e.g. "range", "filter")
	Params         map[string]any `json:"params,omitempty" yaml:"params,omitempty"` // kind-specific parameters
	Next           []string       `json:"next,omitempty" yaml:"next,omitempty"`     // IDs of the steps receiving the output
	Retry          *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout        string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Delay          string         `json:"delay,omitempty" yaml:"delay,omitempty"`
	Iterations     int64          `json:"iterations,omitempty" yaml:"iterations,omitempty"` // negative repeats until the minion is cancelled
	IterationDelay string         `json:"iteration_delay,omitempty" yaml:"iteration_delay,omitempty"`
}

// RetryPolicy configures the retries of a step.
type RetryPolicy struct {
	Max      int    `json:"max" yaml:"max"`                                 // max attempts
	Backoff  string `json:"backoff,omitempty" yaml:"backoff,omitempty"`     // none | constant | linear | exponential (default: none)
	Delay    string `json:"delay,omitempty" yaml:"delay,omitempty"`         // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"` // cap of the computed delay
}

// TopicKind enumerates the variants of topics.
type TopicKind string

const (
	TopicUnicast   TopicKind = "unicast"
	TopicBroadcast TopicKind = "broadcast"
	TopicLoop      TopicKind = "loop"
)

// TopicDefinition declares a topic shared by the steps of a scenario.
type TopicDefinition struct {
	Name        string    `json:"name" yaml:"name"`
	Kind        TopicKind `json:"kind,omitempty" yaml:"kind,omitempty"`     // default: broadcast
	Buffer      int       `json:"buffer,omitempty" yaml:"buffer,omitempty"` // retained records, see the topic variants
	IdleTimeout string    `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// ParseDuration parses an optional duration: the empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, NewErrorf(ErrCodeValidation, "invalid duration %q", s).WithCause(err)
	}
	return d, nil
}

// Roots returns the IDs of the steps of the DAG no other step points to.
func (d *DAGDefinition) Roots() []string {
	targets := make(map[string]bool)
	for _, s := range d.Steps {
		for _, n := range s.Next {
			targets[n] = true
		}
	}
	var roots []string
	for _, s := range d.Steps {
		if !targets[s.ID] {
			roots = append(roots, s.ID)
		}
	}
	return roots
}
