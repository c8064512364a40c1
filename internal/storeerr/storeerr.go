// Package storeerr defines the error kinds shared across the persistence,
// store, bus, and executor packages and the HTTP mapping between them.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and retry decisions.
type Kind int

const (
	// KindNotFound maps to HTTP 404.
	KindNotFound Kind = iota
	// KindConflict maps to HTTP 409.
	KindConflict
	// KindBadRequest maps to HTTP 400.
	KindBadRequest
	// KindValidation maps to HTTP 422.
	KindValidation
	// KindTimeout indicates a bounded wait expired; expected, not logged as an error.
	KindTimeout
	// KindCancelled indicates a cancellation token fired; expected, not logged as an error.
	KindCancelled
	// KindTransient indicates the executor should retry the run.
	KindTransient
	// KindFatal indicates the run and its thread move to status error.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind and, for validation errors, the
// offending field.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, storeerr.NotFound) style sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinel errors for errors.Is comparisons against a bare Kind, matching
// the callers that only care "was this a not-found".
var (
	NotFound   = &Error{Kind: KindNotFound}
	Conflict   = &Error{Kind: KindConflict}
	BadRequest = &Error{Kind: KindBadRequest}
	Validation = &Error{Kind: KindValidation}
	Timeout    = &Error{Kind: KindTimeout}
	Cancelled  = &Error{Kind: KindCancelled}
	Transient  = &Error{Kind: KindTransient}
	Fatal      = &Error{Kind: KindFatal}
)

// NewNotFound builds a not-found error for the named resource.
func NewNotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// NewConflict builds a conflict error.
func NewConflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// NewBadRequest builds a bad-request error.
func NewBadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// NewValidation builds a validation error naming the offending field.
func NewValidation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

// NewTimeout builds a timeout error.
func NewTimeout(msg string) *Error {
	return &Error{Kind: KindTimeout, Message: msg}
}

// NewCancelled builds a cancellation error.
func NewCancelled(msg string) *Error {
	return &Error{Kind: KindCancelled, Message: msg}
}

// WrapTransient marks err as transient (retryable by the executor).
func WrapTransient(err error) *Error {
	return &Error{Kind: KindTransient, Message: err.Error(), Wrapped: err}
}

// WrapFatal marks err as fatal (terminates the run and thread in error).
func WrapFatal(err error) *Error {
	return &Error{Kind: KindFatal, Message: err.Error(), Wrapped: err}
}

// KindOf extracts the Kind of err, defaulting to KindFatal for errors that
// were never classified — an unclassified failure must not be silently
// retried forever.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}
