package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity tells whether an issue blocks the build of a scenario.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a scenario or a configuration,
// located by a path such as "dag/checkout/step/http-1".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult aggregates the issues of a validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors. Warnings are acceptable.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to an *EngineError, nil when valid. A single
// error keeps its own code, several are reported as VALIDATION_ERROR.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	code := r.Errors[0].Code
	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		code = ErrCodeValidation
		lines := make([]string, len(r.Errors))
		for i, issue := range r.Errors {
			lines[i] = issue.String()
		}
		msg = fmt.Sprintf("validation failed with %d errors: %s", len(r.Errors), strings.Join(lines, "; "))
	}

	return NewError(code, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
