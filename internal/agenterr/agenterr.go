// Package agenterr defines the coded error type shared across the agent.
//
// Every failure that can reach a caller carries a stable machine-readable
// code. Backend/probe failures are normalized into state instead of being
// surfaced (see the supervisor), so only caller-input and mode errors are
// expected to travel over HTTP.
package agenterr

import (
	"errors"
	"fmt"
)

// Codes surfaced over the API or logged by the agent.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidOperation  = "INVALID_OPERATION"
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeBinaryNotFound    = "BINARY_NOT_FOUND"
	CodeProcessExists     = "PROCESS_EXISTS"
	CodeProcessStart      = "PROCESS_START_FAILED"
	CodeProcessStop       = "PROCESS_STOP_FAILED"
	CodeProcessTerminated = "PROCESS_TERMINATED"
	CodeImagePreparation  = "IMAGE_PREPARATION_FAILED"
	CodeImageRetrieval    = "IMAGE_RETRIEVAL_FAILED"
	CodeImageVerification = "IMAGE_VERIFICATION_FAILED"
	CodeDownloadFailed    = "DOWNLOAD_FAILED"
	CodeCacheClear        = "CACHE_CLEAR_FAILED"
	CodeLaunchPreparation = "LAUNCH_PREPARATION_FAILED"
	CodeProbeUnavailable  = "PROBE_UNAVAILABLE"
	CodeSystem            = "SYSTEM_ERROR"
)

// Error is a coded agent error with optional structured details.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error with an underlying cause.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so sentinel comparisons like
// errors.Is(err, agenterr.New(CodeInvalidOperation, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Is reports whether the error chain carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf extracts the code from an error chain, or CodeSystem if the error
// is not a coded agent error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystem
}

// AsError extracts a coded error from the chain, wrapping anything else as a
// SYSTEM_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeSystem, err.Error(), err)
}
