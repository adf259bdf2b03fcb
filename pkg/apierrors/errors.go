// Package apierrors defines the structured error kinds surfaced to HTTP
// callers and the propagation policy described for the session core: every
// boundary converts internal failures into one of a fixed set of kinds and
// never leaks internals to the response body.
package apierrors

import (
	"fmt"
	"net/http"
)

// Kind is one of the fixed error kinds the core ever returns.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotAuthorized      Kind = "NOT_AUTHORIZED"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidState       Kind = "INVALID_STATE"
	KindInsufficientBal    Kind = "INSUFFICIENT_BALANCE"
	KindReaderUnavailable  Kind = "READER_UNAVAILABLE"
	KindRateLimitExceeded  Kind = "RATE_LIMIT_EXCEEDED"
	KindConflict           Kind = "CONFLICT"
	KindTransientError     Kind = "TRANSIENT_ERROR"
	KindInternal           Kind = "INTERNAL"
)

var httpStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindNotAuthorized:     http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindInvalidState:      http.StatusBadRequest,
	KindInsufficientBal:   http.StatusBadRequest,
	KindReaderUnavailable: http.StatusBadRequest,
	KindRateLimitExceeded: http.StatusTooManyRequests,
	KindConflict:          http.StatusConflict,
	KindTransientError:    http.StatusInternalServerError,
	KindInternal:          http.StatusInternalServerError,
}

// Error is a structured error carrying a kind, message, and optional detail
// fields and wrapped cause. It is the only error type that crosses a service
// boundary into httpapi.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to its response status code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a detail field and returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for any
// error that did not originate from this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if ok := asError(err, &se); ok {
		return se.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors mirroring the ten kinds of spec section 7.

func Validation(message string) *Error        { return New(KindValidation, message) }
func NotAuthorized(message string) *Error      { return New(KindNotAuthorized, message) }
func NotFound(message string) *Error          { return New(KindNotFound, message) }
func InvalidState(message string) *Error      { return New(KindInvalidState, message) }
func InsufficientBalance(message string) *Error {
	return New(KindInsufficientBal, message)
}
func ReaderUnavailable(message string) *Error { return New(KindReaderUnavailable, message) }
func RateLimitExceeded(category string) *Error {
	return New(KindRateLimitExceeded, "rate limit exceeded").WithDetail("category", category)
}
func Conflict(message string) *Error      { return New(KindConflict, message) }
func Transient(message string, cause error) *Error {
	return Wrap(KindTransientError, message, cause)
}
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}
