// Package errors provides structured error types for the trace-mcp server.
// These errors include helpful hints and suggestions that guide the LLM
// to correct course when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"

	// Trace query errors
	CodeOutOfRange         ErrorCode = "OUT_OF_RANGE"
	CodeUnresolvedVariable ErrorCode = "UNRESOLVED_VARIABLE"
	CodeUnresolvedScope    ErrorCode = "UNRESOLVED_SCOPE"
	CodeInvalidType        ErrorCode = "INVALID_TYPE"

	// Collaborator errors
	CodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeInvalidJSON      ErrorCode = "INVALID_JSON"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Anything not raised through this package
	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error type that includes helpful information
// for the LLM to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human/LLM-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Is matches any DebugError carrying the same code, so callers can write
// errors.Is(err, &DebugError{Code: CodeOutOfRange}).
func (e *DebugError) Is(target error) bool {
	var de *DebugError
	if !stderrors.As(target, &de) {
		return false
	}
	return de.Code == e.Code
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// HasCode reports whether err is a DebugError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	if !stderrors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// --- Session Errors ---

// NoActiveSession creates an error for queries issued without a started session
func NoActiveSession() *DebugError {
	return &DebugError{
		Code:    CodeNoActiveSession,
		Message: "no active debug session",
		Hint:    "Use start_debug_session with a transaction hash before querying the trace.",
	}
}

// --- Trace Query Errors ---

// OutOfRange creates an error for step indices outside the trace
func OutOfRange(step, traceLength int) *DebugError {
	return &DebugError{
		Code:    CodeOutOfRange,
		Message: fmt.Sprintf("step %d is outside the trace [0, %d)", step, traceLength),
		Hint:    fmt.Sprintf("Pass a step between 0 and %d. The cursor was not moved.", traceLength-1),
		Details: map[string]interface{}{
			"step":        step,
			"traceLength": traceLength,
		},
	}
}

// UnresolvedVariable creates an error for an unknown variable id at a step
func UnresolvedVariable(variableID string, step int, available []string) *DebugError {
	hint := "Use extract_locals_at or extract_state_at to list the variables visible at this step."
	if len(available) > 0 {
		hint = fmt.Sprintf("Variables visible at step %d: %s", step, strings.Join(available, ", "))
	}
	return &DebugError{
		Code:    CodeUnresolvedVariable,
		Message: fmt.Sprintf("variable '%s' is not declared at step %d", variableID, step),
		Hint:    hint,
		Details: map[string]interface{}{
			"variableId": variableID,
			"step":       step,
		},
	}
}

// UnresolvedScope creates an error when no scope covers a step
func UnresolvedScope(step int) *DebugError {
	return &DebugError{
		Code:    CodeUnresolvedScope,
		Message: fmt.Sprintf("no scope covers step %d", step),
		Hint:    "The trace engine reported a scope tree that does not cover this step. Read debug://scopes-summary to see the covered ranges.",
		Details: map[string]interface{}{
			"step": step,
		},
	}
}

// InvalidType creates an error for variable types the decoder cannot represent
func InvalidType(typeName, reason string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidType,
		Message: fmt.Sprintf("cannot decode type '%s': %s", typeName, reason),
		Hint:    "Supported types: intN/uintN, address, bool, bytesN, bytes, string, T[] / T[N], structs, enums, mappings (placeholder only).",
		Details: map[string]interface{}{
			"type": typeName,
		},
	}
}

// --- Collaborator Errors ---

// EngineUnavailable creates an error when the trace engine cannot serve data
func EngineUnavailable(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineUnavailable,
		Message: fmt.Sprintf("trace engine could not %s: %v", operation, err),
		Hint:    "Check that the transaction hash is correct and that its trace is available to the engine.",
		Cause:   err,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// InvalidJSON creates an error for JSON parsing failures
func InvalidJSON(paramName string, err error, example string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidJSON,
		Message: fmt.Sprintf("invalid JSON in parameter '%s': %v", paramName, err),
		Hint:    fmt.Sprintf("Provide valid JSON. Example: %s", example),
		Cause:   err,
		Details: map[string]interface{}{
			"parameter": paramName,
			"example":   example,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for invalid server configuration
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration field '%s' is invalid: %s", field, reason),
		Hint:    "Fix the configuration file or the matching command line flag.",
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// --- Helper for generic errors ---

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    CodeUnknown,
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
