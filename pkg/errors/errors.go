// Package errors provides structured error types for apm.
//
// Every failure that reaches the command layer carries a machine-readable
// [Code] so callers can branch on the failure class without string matching:
//
//   - INVALID_*: malformed input (package names, ranges, descriptor and lock files)
//   - PACKAGE_NOT_FOUND, UNMET_DEPENDENCY: resolution failures
//   - INTEGRITY_ERROR, INVALID_PACKAGE_META: registry content problems
//   - HTTP_ERROR, NETWORK_ERROR, TIMEOUT, RATE_LIMITED: transport failures
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnmetDependency, "package %s@%s not available, required by %s", name, rng, parent)
//	if errors.Is(err, errors.ErrCodeUnmetDependency) {
//	    // Handle resolution failure
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeNetwork, origErr, "fetch %s", url)
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
	ErrCodeInvalidPackageName Code = "INVALID_PACKAGE_NAME"
	ErrCodeInvalidRange       Code = "INVALID_RANGE"
	ErrCodeInvalidDescriptor  Code = "INVALID_DESCRIPTOR"
	ErrCodeInvalidLockfile    Code = "INVALID_LOCKFILE"
	ErrCodeInvalidPath        Code = "INVALID_PATH"

	// Resolution errors
	ErrCodePackageNotFound   Code = "PACKAGE_NOT_FOUND"
	ErrCodeUnmetDependency   Code = "UNMET_DEPENDENCY"
	ErrCodeInvalidMeta       Code = "INVALID_PACKAGE_META"
	ErrCodeIntegrity         Code = "INTEGRITY_ERROR"
	ErrCodeInstallFailed     Code = "INSTALL_FAILED"
	ErrCodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"

	// Network errors
	ErrCodeHTTP        Code = "HTTP_ERROR"
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Authentication errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
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

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.Cause
		e = nil
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix,
// followed by the cause when one is attached.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return e.Message + ": " + UserMessage(e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
