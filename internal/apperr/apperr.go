// Package apperr provides the structured error taxonomy shared across the
// scheduling and delivery pipeline. Every component classifies failures into
// one of these types so the caller can decide retry/dead-letter/abort
// behavior without matching on error strings.
package apperr

import (
	"fmt"
	"net/http"
)

// Type classifies the nature of a failure.
type Type string

const (
	TypeValidation Type = "validation"
	TypeNotFound   Type = "not_found"
	TypeConflict   Type = "conflict"
	TypeTransient  Type = "transient"
	TypePermanent  Type = "permanent"
	TypeConfig     Type = "config"
	TypeInternal   Type = "internal"
)

// statusCodes maps each Type to the HTTP status it would correspond to on an
// admin/debug surface. The delivery pipeline itself never returns HTTP
// directly, but this keeps one canonical mapping for the health server and
// for tests that assert on it.
var statusCodes = map[Type]int{
	TypeValidation: http.StatusBadRequest,
	TypeNotFound:   http.StatusNotFound,
	TypeConflict:   http.StatusConflict,
	TypeTransient:  http.StatusServiceUnavailable,
	TypePermanent:  http.StatusUnprocessableEntity,
	TypeConfig:     http.StatusInternalServerError,
	TypeInternal:   http.StatusInternalServerError,
}

// Error is a structured application error carrying a type, a message, an
// optional cause, and optional free-form details.
type Error struct {
	Type       Type
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an Error of the given type.
func New(t Type, message string) *Error {
	return &Error{Type: t, Message: message, StatusCode: statusCodes[t]}
}

// Newf creates an Error of the given type with a formatted message.
func Newf(t Type, format string, args ...any) *Error {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a type and message, preserving the cause
// for errors.Is/errors.As via Unwrap.
func Wrap(cause error, t Type, message string) *Error {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf wraps an existing error with a type and a formatted message.
func Wrapf(cause error, t Type, format string, args ...any) *Error {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional free-form context, modifying err in place
// and returning it for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted additional context.
func (e *Error) WithDetailsf(format string, args ...any) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Type, enabling errors.Is(err,
// apperr.New(apperr.TypeTransient, "")) style checks against a sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t Type) bool {
	var appErr *Error
	if e, ok := err.(*Error); ok {
		appErr = e
	} else {
		return false
	}
	return appErr.Type == t
}
