package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeExecution             = "EXECUTION_ERROR"
	ErrCodeTimeout               = "TIMEOUT_ERROR"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeInvalidTransition     = "INVALID_TRANSITION"
	ErrCodeCycleDetected         = "CYCLE_DETECTED"
	ErrCodeStepFailed            = "STEP_FAILED"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeRetryExhausted        = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable          = "NON_RETRYABLE"
	ErrCodeStore                 = "STORE_ERROR"
	ErrCodeClosedTopic           = "CLOSED_TOPIC"
	ErrCodeUnknownSubscription   = "UNKNOWN_SUBSCRIPTION"
	ErrCodeCancelledSubscription = "CANCELLED_SUBSCRIPTION"
	ErrCodeCompletedTopic        = "COMPLETED_TOPIC"
	ErrCodeAssertion             = "ASSERTION_FAILED"
	ErrCodeNoInput               = "NO_INPUT"
	ErrCodeClosedContext         = "CLOSED_CONTEXT"
)

// nonRetryableCodes lists the codes a retry policy must never retry.
var nonRetryableCodes = map[string]bool{
	ErrCodeValidation:            true,
	ErrCodeNotFound:              true,
	ErrCodeConflict:              true,
	ErrCodeInvalidTransition:     true,
	ErrCodeCycleDetected:         true,
	ErrCodeCancelled:             true,
	ErrCodeNonRetryable:          true,
	ErrCodeClosedTopic:           true,
	ErrCodeUnknownSubscription:   true,
	ErrCodeCancelledSubscription: true,
	ErrCodeAssertion:             true,
	ErrCodeNoInput:               true,
	ErrCodeClosedContext:         true,
}

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches any *EngineError carrying the same code, so errors.Is works
// against the sentinel kinds declared by the engine packages.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// IsRetryable reports whether the code allows another attempt.
func (e *EngineError) IsRetryable() bool {
	return !nonRetryableCodes[e.Code]
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
