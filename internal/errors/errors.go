// Package errors provides structured error types for the pldbg-mcp server.
// Every error carries a code for programmatic handling and a hint that tells
// the caller what to try next.
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
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionBusy     ErrorCode = "SESSION_BUSY"
	CodeSessionClosed   ErrorCode = "SESSION_CLOSED"

	// Target errors
	CodeRoutineNotFound    ErrorCode = "ROUTINE_NOT_FOUND"
	CodeActivationDeclined ErrorCode = "ACTIVATION_DECLINED"

	// Connection errors
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidCall      ErrorCode = "INVALID_CALL"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type with a code, a hint and optional details.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message describes what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context
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

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err is a DebugError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see known sessions, or debug_routine to start a new one.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionBusy creates an error when another session already holds the debugger
func SessionBusy(activeID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionBusy,
		Message: fmt.Sprintf("debug session '%s' is still active", activeID),
		Hint:    "Only one routine can be debugged at a time. Use debug_close on the active session first.",
		Details: map[string]interface{}{
			"activeSessionId": activeID,
		},
	}
}

// SessionClosed creates an error for lifecycle calls made after close
func SessionClosed(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionClosed,
		Message: fmt.Sprintf("session '%s' is closed", sessionID),
		Hint:    "Start a new session with debug_routine.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// --- Target Errors ---

// RoutineNotFound creates an error when no routine matches the call site
func RoutineNotFound(call string, arity int) *DebugError {
	return &DebugError{
		Code:    CodeRoutineNotFound,
		Message: "Routine not found",
		Hint:    fmt.Sprintf("No single routine visible on the search path matches %s with %d argument(s). Qualify the name with its schema or check the argument count.", call, arity),
		Details: map[string]interface{}{
			"call":  call,
			"arity": arity,
		},
	}
}

// ActivationDeclined creates an error when the server refused to arm the routine
func ActivationDeclined(routine string) *DebugError {
	return &DebugError{
		Code:    CodeActivationDeclined,
		Message: fmt.Sprintf("server declined to debug %s", routine),
		Hint:    "Check that the pldbgapi extension is installed (CREATE EXTENSION pldbgapi), that shared_preload_libraries contains plugin_debugger, and that the role may call plpgsql_oid_debug.",
		Details: map[string]interface{}{
			"routine": routine,
		},
	}
}

// --- Connection Errors ---

// ConnectionFailed creates an error for control or debug connection failures
func ConnectionFailed(which string, err error) *DebugError {
	return &DebugError{
		Code:    CodeConnectionFailed,
		Message: fmt.Sprintf("%s connection failed: %v", which, err),
		Hint:    "The session cannot be resumed because the armed breakpoint is scoped to the lost connection. Start a new session.",
		Cause:   err,
		Details: map[string]interface{}{
			"connection": which,
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

// InvalidCall creates an error for call expressions that cannot be parsed
func InvalidCall(call string, reason string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidCall,
		Message: fmt.Sprintf("cannot extract a routine call from %q: %s", call, reason),
		Hint:    "Pass a single statement such as SELECT my_func(1, 'a') or CALL my_proc(42).",
		Details: map[string]interface{}{
			"call":   call,
			"reason": reason,
		},
	}
}

// --- Permission Errors ---

// PermissionDenied creates an error for operations disabled by the server mode
func PermissionDenied(operation, mode string) *DebugError {
	return &DebugError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not allowed in current server mode", operation),
		Hint:    fmt.Sprintf("This operation is not allowed in '%s' mode. Restart the server with --mode full.", mode),
		Details: map[string]interface{}{
			"operation": operation,
			"mode":      mode,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration field '%s' is invalid: %s", field, reason),
		Hint:    "Fix the value in the configuration file or the matching PLDBG_ environment variable.",
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// FromError creates a DebugError from a generic error, preserving any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
