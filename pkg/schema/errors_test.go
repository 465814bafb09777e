package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Error(t *testing.T) {
	err := NewError(ErrCodeStepFailed, "boom")
	assert.Equal(t, "[STEP_FAILED] boom", err.Error())

	err = NewErrorf(ErrCodeTimeout, "after %s", "2s").WithStep("http-1")
	assert.Equal(t, "[TIMEOUT_ERROR] step http-1: after 2s", err.Error())
}

func TestEngineError_IsMatchesCode(t *testing.T) {
	sentinel := NewError(ErrCodeClosedTopic, "the topic is closed")
	err := fmt.Errorf("poll: %w", NewError(ErrCodeClosedTopic, "other message").WithStep("s1"))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, NewError(ErrCodeCompletedTopic, "")))
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "append events").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	var engineErr *EngineError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &engineErr))
	assert.Equal(t, ErrCodeStore, engineErr.Code)
}

func TestEngineError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeExecution, "").IsRetryable())
	assert.True(t, NewError(ErrCodeTimeout, "").IsRetryable())
	assert.False(t, NewError(ErrCodeValidation, "").IsRetryable())
	assert.False(t, NewError(ErrCodeAssertion, "").IsRetryable())
	assert.False(t, NewError(ErrCodeCancelled, "").IsRetryable())
}
