package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Agent error codes
const (
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentUnhealthy    ErrorCode = "AGENT_UNHEALTHY"
	ErrAgentFailed       ErrorCode = "AGENT_FAILED"
	ErrBreakerOpen       ErrorCode = "BREAKER_OPEN"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Workflow error codes
const (
	ErrInvalidDefinition ErrorCode = "INVALID_DEFINITION"
	ErrParallelFailed    ErrorCode = "PARALLEL_FAILED"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrExecutionNotFound ErrorCode = "EXECUTION_NOT_FOUND"
	ErrNotRunning        ErrorCode = "NOT_RUNNING"
	ErrStillRunning      ErrorCode = "STILL_RUNNING"
)

// Message error codes
const (
	ErrMessageNotFound ErrorCode = "MESSAGE_NOT_FOUND"
)

// Generic error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrNotConfigured      ErrorCode = "NOT_CONFIGURED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// StatusFor maps an error code to the HTTP status the API reports for it.
func StatusFor(code ErrorCode) int {
	switch code {
	case ErrAgentNotFound, ErrExecutionNotFound, ErrMessageNotFound:
		return http.StatusNotFound
	case ErrInvalidRequest, ErrInvalidDefinition:
		return http.StatusBadRequest
	case ErrNotRunning, ErrStillRunning, ErrInvalidTransition:
		return http.StatusConflict
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrBreakerOpen, ErrAgentUnhealthy, ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
