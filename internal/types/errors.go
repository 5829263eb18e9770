package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for NeuroForge core errors.
type ErrorCode string

// Validation and lookup error codes
const (
	VALIDATION_FAILED ErrorCode = "VALIDATION_FAILED"
	RECORD_NOT_FOUND  ErrorCode = "RECORD_NOT_FOUND"
	RECORD_CONFLICT   ErrorCode = "RECORD_CONFLICT"
)

// Subsystem availability error codes
const (
	VECTOR_UNAVAILABLE ErrorCode = "VECTOR_UNAVAILABLE"
)

// Task and plugin error codes
const (
	UNKNOWN_CAPABILITY      ErrorCode = "UNKNOWN_CAPABILITY"
	PLUGIN_TIMEOUT          ErrorCode = "PLUGIN_TIMEOUT"
	PLUGIN_EXECUTION_FAILED ErrorCode = "PLUGIN_EXECUTION_FAILED"
	TASK_INVALID_TRANSITION ErrorCode = "TASK_INVALID_TRANSITION"
	TASK_NOT_FOUND          ErrorCode = "TASK_NOT_FOUND"
)

// Storage error codes
const (
	STORE_IO_FAILED     ErrorCode = "STORE_IO_FAILED"
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Error represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
func (e *Error) Is(target error) bool {
	var coreErr *Error
	if errors.As(target, &coreErr) {
		return e.Code == coreErr.Code
	}
	return false
}

// NewError creates a new non-retryable Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// NewRetryableError creates a new retryable Error with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., I/O contention).
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable Error that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// WrapRetryableError creates a retryable Error that wraps an existing error.
func WrapRetryableError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// CodeOf extracts the ErrorCode from err, or returns the empty code if err
// is not a structured Error.
func CodeOf(err error) ErrorCode {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryability hint.
func IsRetryable(err error) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Retryable
	}
	return false
}

// HasCode reports whether err is a structured Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
