package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/events"
	"github.com/qalipsis/qalipsis-oss-sub011/internal/messaging"
	"github.com/qalipsis/qalipsis-oss-sub011/pkg/schema"
)

// outputBuffer is the capacity of the output channel of a StepContext.
const outputBuffer = 64

// HeaderIteration is the header of the records sent during a non-initial
// iteration of a step, holding the index of that iteration.
const HeaderIteration = "iteration"

var (
	// ErrNoInput is returned by Receive on a context without input value.
	ErrNoInput = schema.NewError(schema.ErrCodeNoInput, "the step context has no input")
	// ErrClosedContext is returned by Send once the output is closed.
	ErrClosedContext = schema.NewError(schema.ErrCodeClosedContext, "the step context is closed")
)

// Unit is the input of the root steps of a DAG.
type Unit struct{}

// StepError is a failure recorded into a StepContext.
type StepError struct {
	StepID  string
	Message string
	Cause   error
	At      time.Time
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
}

func (e StepError) Unwrap() error {
	return e.Cause
}

// ContextIdentity identifies the execution a StepContext belongs to.
type ContextIdentity struct {
	CampaignKey    string
	MinionID       string
	ScenarioName   string
	DAGID          string
	StepID         string
	PreviousStepID string
}

// StepContext is the unit of dataflow of a single step execution for a
// minion: one input value at most, any number of output values, and the
// state of the branch (errors, exhaustion).
//
// The input and output are closed exactly once, by Close.
type StepContext struct {
	ContextIdentity

	CreatedAt time.Time

	// AttemptsAfterFailure counts the retries of the current execution.
	AttemptsAfterFailure int

	input chan any

	outputMu     sync.RWMutex
	output       chan messaging.Record[any]
	outputClosed bool
	discard      bool

	inputOnce sync.Once

	errorsMu sync.Mutex
	errors   []StepError

	iteration       atomic.Int64
	exhausted       atomic.Bool
	completed       atomic.Bool
	generatedOutput atomic.Bool

	// exhaustionNotified guards the single pass notifying the next steps of
	// the exhaustion of this context.
	exhaustionNotified atomic.Bool
}

// NewStepContext creates a context without input.
func NewStepContext(id ContextIdentity) *StepContext {
	return &StepContext{
		ContextIdentity: id,
		CreatedAt:       time.Now(),
		input:           make(chan any, 1),
		output:          make(chan messaging.Record[any], outputBuffer),
	}
}

// NewStepContextWithInput creates a context holding value as input.
func NewStepContextWithInput(id ContextIdentity, value any) *StepContext {
	sc := NewStepContext(id)
	sc.input <- value
	return sc
}

// Next builds the context of the next step receiving value. Errors and
// exhaustion are inherited.
func (sc *StepContext) Next(value any, stepID string) *StepContext {
	return sc.next(value, stepID, sc.IsExhausted())
}

func (sc *StepContext) next(value any, stepID string, exhausted bool) *StepContext {
	next := sc.NextExhausted(stepID)
	next.exhausted.Store(exhausted)
	next.input <- value
	return next
}

// nextFromRecord is like next, but the iteration is the one during which
// the record was sent.
func (sc *StepContext) nextFromRecord(record messaging.Record[any], stepID string, exhausted bool) *StepContext {
	next := sc.next(record.Value, stepID, exhausted)
	var iteration int64
	if h, ok := record.Headers[HeaderIteration]; ok {
		iteration, _ = strconv.ParseInt(h, 10, 64)
	}
	next.iteration.Store(iteration)
	return next
}

// NextExhausted builds the exhausted context of the next step, without
// input. Only error-processing steps are executed with it.
func (sc *StepContext) NextExhausted(stepID string) *StepContext {
	id := sc.ContextIdentity
	id.PreviousStepID = sc.StepID
	id.StepID = stepID
	next := NewStepContext(id)
	next.iteration.Store(sc.iteration.Load())
	next.errors = sc.Errors()
	next.exhausted.Store(true)
	return next
}

// HasInput reports whether an input value is waiting to be received.
func (sc *StepContext) HasInput() bool {
	return len(sc.input) > 0
}

// Receive takes the input value. It does not block: the input is always
// provided before the step is executed.
func (sc *StepContext) Receive() (any, error) {
	select {
	case v, ok := <-sc.input:
		if !ok {
			return nil, ErrNoInput
		}
		return v, nil
	default:
		return nil, ErrNoInput
	}
}

// resetInput replaces the pending input, if any, with value.
func (sc *StepContext) resetInput(value any) {
	select {
	case <-sc.input:
	default:
	}
	sc.input <- value
}

// Send emits value to the next steps. It blocks while the output is full,
// until ctx is done.
func (sc *StepContext) Send(ctx context.Context, value any) error {
	sc.outputMu.RLock()
	defer sc.outputMu.RUnlock()
	if sc.outputClosed {
		return ErrClosedContext
	}
	sc.generatedOutput.Store(true)
	if sc.discard {
		return nil
	}
	record := messaging.NewRecord(value)
	if i := sc.iteration.Load(); i != 0 {
		record = record.WithHeader(HeaderIteration, strconv.FormatInt(i, 10))
	}
	select {
	case sc.output <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Output returns the channel of the records sent by the step.
func (sc *StepContext) Output() <-chan messaging.Record[any] {
	return sc.output
}

// discardOutput makes Send drop the records: nobody reads the output of a
// step without successors.
func (sc *StepContext) discardOutput() {
	sc.outputMu.Lock()
	sc.discard = true
	sc.outputMu.Unlock()
}

// CloseInput closes the input. It is idempotent.
func (sc *StepContext) CloseInput() {
	sc.inputOnce.Do(func() { close(sc.input) })
}

// CloseOutput closes the output. It is idempotent and waits for the pending
// Send calls to return.
func (sc *StepContext) CloseOutput() {
	sc.outputMu.Lock()
	defer sc.outputMu.Unlock()
	if !sc.outputClosed {
		sc.outputClosed = true
		close(sc.output)
	}
}

// Close closes the input and the output.
func (sc *StepContext) Close() {
	sc.CloseInput()
	sc.CloseOutput()
}

// AddError records err. A StepError keeps its own step, other errors are
// attributed to the step of the context.
func (sc *StepContext) AddError(err error) {
	se, ok := err.(StepError)
	if !ok {
		se = StepError{StepID: sc.StepID, Message: err.Error(), Cause: err, At: time.Now()}
	}
	if se.StepID == "" {
		se.StepID = sc.StepID
	}
	sc.errorsMu.Lock()
	sc.errors = append(sc.errors, se)
	sc.errorsMu.Unlock()
}

// Errors returns a copy of the recorded errors.
func (sc *StepContext) Errors() []StepError {
	sc.errorsMu.Lock()
	defer sc.errorsMu.Unlock()
	if len(sc.errors) == 0 {
		return nil
	}
	return append([]StepError(nil), sc.errors...)
}

// StepIterationIndex returns the index of the current iteration when the
// step is repeated.
func (sc *StepContext) StepIterationIndex() int64 { return sc.iteration.Load() }

func (sc *StepContext) setIteration(i int64)     { sc.iteration.Store(i) }
func (sc *StepContext) IsExhausted() bool        { return sc.exhausted.Load() }
func (sc *StepContext) SetExhausted(v bool)      { sc.exhausted.Store(v) }
func (sc *StepContext) IsCompleted() bool        { return sc.completed.Load() }
func (sc *StepContext) SetCompleted(v bool)      { sc.completed.Store(v) }
func (sc *StepContext) HasGeneratedOutput() bool { return sc.generatedOutput.Load() }

// EventTags returns the tags describing the context in the events.
func (sc *StepContext) EventTags() events.Tags {
	tags := events.Tags{
		"campaign":  sc.CampaignKey,
		"minion":    sc.MinionID,
		"scenario":  sc.ScenarioName,
		"dag":       sc.DAGID,
		"iteration": strconv.FormatInt(sc.iteration.Load(), 10),
		"exhausted": strconv.FormatBool(sc.IsExhausted()),
	}
	if sc.PreviousStepID != "" {
		tags["previous-step"] = sc.PreviousStepID
	}
	return tags
}

func (sc *StepContext) String() string {
	return fmt.Sprintf("StepContext(minion=%s, step=%s, previous=%s, exhausted=%t)",
		sc.MinionID, sc.StepID, sc.PreviousStepID, sc.IsExhausted())
}
