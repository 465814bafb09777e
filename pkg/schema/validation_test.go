package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_Valid(t *testing.T) {
	var r ValidationResult
	r.AddWarning("dag/d1", ErrCodeValidation, "no root step")

	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
}

func TestValidationResult_SingleErrorKeepsCode(t *testing.T) {
	var r ValidationResult
	r.AddError("dag/d1", ErrCodeCycleDetected, "cycle through s1")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewError(ErrCodeCycleDetected, "")))
	assert.Contains(t, err.Error(), "dag/d1: cycle through s1")
}

func TestValidationResult_Merge(t *testing.T) {
	var r, other ValidationResult
	r.AddError("a", ErrCodeValidation, "first")
	other.AddError("b", ErrCodeCycleDetected, "second")
	other.AddWarning("c", ErrCodeValidation, "third")
	r.Merge(&other)
	r.Merge(nil)

	require.Len(t, r.Errors, 2)
	require.Len(t, r.Warnings, 1)

	var engineErr *EngineError
	require.True(t, errors.As(r.ToError(), &engineErr))
	assert.Equal(t, ErrCodeValidation, engineErr.Code)
	assert.Equal(t, 2, engineErr.Details["error_count"])
	assert.Contains(t, engineErr.Message, "a: first; b: second")
}
