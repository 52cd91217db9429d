// Package errors provides structured error types for cellforge.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the library, CLI and API
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - INVALID_*: Input validation failures (raised immediately)
//   - DUPLICATE_* / UNKNOWN_*: Structural lookups on the schematic graph
//   - PARAM_MISMATCH, SIGNAL_EXTRACTION, NONCONVERGENCE: physical or
//     simulation-level conditions, normally collected as diagnostics
//   - BACKEND, TIMEOUT, INTERNAL: collaborator and unexpected failures
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidDirection, "unknown direction %q", tok)
//	if errors.Is(err, errors.ErrCodeInvalidDirection) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeBackend, origErr, "instantiate %s", name)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeInvalidPlacement   Code = "INVALID_PLACEMENT"
	ErrCodeInvalidDirection   Code = "INVALID_DIRECTION"
	ErrCodeInvalidOrientation Code = "INVALID_ORIENTATION"
	ErrCodeInvalidValue       Code = "INVALID_VALUE"
	ErrCodeInvalidStimulus    Code = "INVALID_STIMULUS"
	ErrCodeInvalidWaveform    Code = "INVALID_WAVEFORM"
	ErrCodeInvalidConfig      Code = "INVALID_CONFIG"
	ErrCodeInvalidName        Code = "INVALID_NAME"

	// Structural errors on the schematic graph
	ErrCodeDuplicateInstance Code = "DUPLICATE_INSTANCE"
	ErrCodeDuplicateSignal   Code = "DUPLICATE_SIGNAL"
	ErrCodeUnknownPin        Code = "UNKNOWN_PIN"
	ErrCodeUnknownParameter  Code = "UNKNOWN_PARAMETER"
	ErrCodeUnknownInstance   Code = "UNKNOWN_INSTANCE"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Physical / simulation-level conditions
	ErrCodeParamMismatch    Code = "PARAM_MISMATCH"
	ErrCodeSignalExtraction Code = "SIGNAL_EXTRACTION"
	ErrCodeNonconvergence   Code = "NONCONVERGENCE"

	// Collaborator errors
	ErrCodeBackend Code = "BACKEND"
	ErrCodeTimeout Code = "TIMEOUT"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two *Error values by code, so package-level
// sentinels built with New can be compared against freshly built errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Sentinel returns a message-less *Error for code. errors.Is(err, Sentinel(c))
// reports whether any *Error in err's chain carries code c.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsStructural reports whether err is a programming or input error that the
// caller should treat as fatal, as opposed to a simulation-level condition
// that is normally collected and reported.
func IsStructural(err error) bool {
	switch GetCode(err) {
	case ErrCodeParamMismatch, ErrCodeSignalExtraction, ErrCodeNonconvergence, ErrCodeTimeout:
		return false
	case "":
		return false
	}
	return true
}
