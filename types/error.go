package types

import "fmt"

// ErrorCode represents a unified error code across the broker.
type ErrorCode string

// Terminal request outcomes surfaced through completion handles.
const (
	ErrQueueFull          ErrorCode = "QUEUE_FULL"
	ErrTimedOut           ErrorCode = "TIMED_OUT"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrBackendError       ErrorCode = "BACKEND_ERROR"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
)

// Lifecycle and configuration misuse codes.
const (
	ErrBrokerClosed  ErrorCode = "BROKER_CLOSED"
	ErrUnknownClass  ErrorCode = "UNKNOWN_CLASS"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Class     string    `json:"class,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// WithClass tags the error with the originating workload class.
func (e *Error) WithClass(class string) *Error {
	e.Class = class
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// QueueFull builds the rejection error for a class whose queue is at capacity.
// Callers are expected to back off and retry.
func QueueFull(class string) *Error {
	return NewError(ErrQueueFull, "queue capacity exceeded").WithClass(class).WithRetryable(true)
}

// TimedOut builds the error for a request that waited past its deadline
// before admission.
func TimedOut(class string) *Error {
	return NewError(ErrTimedOut, "request timed out before dispatch").WithClass(class).WithRetryable(true)
}

// Cancelled builds the error for a request cancelled by its caller.
func Cancelled(class string) *Error {
	return NewError(ErrCancelled, "request cancelled").WithClass(class)
}

// BackendError wraps a backend invocation failure for diagnostics.
func BackendError(class string, cause error) *Error {
	return NewError(ErrBackendError, "backend invocation failed").WithClass(class).WithCause(cause).WithRetryable(true)
}

// BackendUnavailable builds the fail-fast error emitted while the class's
// circuit breaker is open.
func BackendUnavailable(class string) *Error {
	return NewError(ErrBackendUnavailable, "backend unavailable, circuit open").WithClass(class).WithRetryable(true)
}
