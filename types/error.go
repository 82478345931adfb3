package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies framework errors for programmatic handling.
type ErrorCode string

const (
	ErrCodeCapabilityNotFound  ErrorCode = "capability_not_found"
	ErrCodeCapabilityDuplicate ErrorCode = "capability_duplicate"
	ErrCodeInvocation          ErrorCode = "capability_invocation"
	ErrCodePermissionDenied    ErrorCode = "permission_denied"
	ErrCodeConfiguration       ErrorCode = "configuration"
	ErrCodeCompressionFailed   ErrorCode = "compression_failed"
	ErrCodeCheckpointNotFound  ErrorCode = "checkpoint_not_found"
	ErrCodeCheckpointWrite     ErrorCode = "checkpoint_write"
	ErrCodeLoopFailed          ErrorCode = "loop_failed"
	ErrCodeMaxIterations       ErrorCode = "max_iterations_reached"
	ErrCodeTimeout             ErrorCode = "timeout"
	ErrCodeRateLimited         ErrorCode = "rate_limited"
	ErrCodeInternal            ErrorCode = "internal"
)

// Error is the structured error carried across package boundaries.
// Retryable signals whether a caller may usefully retry the operation.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a structured error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a structured error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches the underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable or not and returns the receiver.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err (or any error in its chain) is a
// structured Error marked retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetErrorCode extracts the ErrorCode from an error chain, or
// ErrCodeInternal when none is present.
func GetErrorCode(err error) ErrorCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternal
}
