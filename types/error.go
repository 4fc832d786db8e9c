package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Schema error codes
const (
	ErrSchema            ErrorCode = "SCHEMA_ERROR"
	ErrUnsupportedSchema ErrorCode = "UNSUPPORTED_SCHEMA"
	ErrSchemaResolution  ErrorCode = "SCHEMA_RESOLUTION"
)

// Invocation error codes
const (
	ErrEmptyResponse    ErrorCode = "EMPTY_RESPONSE"
	ErrParse            ErrorCode = "PARSE_ERROR"
	ErrCall             ErrorCode = "CALL_ERROR"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
)

// Collaborator error codes
const (
	ErrPromptNotFound ErrorCode = "PROMPT_NOT_FOUND"
	ErrPromptInvalid  ErrorCode = "PROMPT_INVALID"
	ErrConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// Error represents a structured error with code, message, and diagnostic metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Path      string    `json:"path,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so sentinel-style checks work:
//
//	errors.Is(err, types.NewError(types.ErrRetriesExhausted, ""))
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithPath sets the schema or document path the error refers to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithRaw records the raw model output associated with the failure.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = raw
	return e
}

// WithAttempts records how many attempts were consumed.
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts the first *Error in err's chain.
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

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
