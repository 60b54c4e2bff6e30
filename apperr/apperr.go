// Package apperr defines the error taxonomy shared by the sync core and the
// HTTP surface. Store hiccups are Transient (retried, never shown for reads),
// authorization failures are PermissionDenied, vanished documents are
// NotFound. Everything else is Internal.
package apperr

import (
	"errors"
	"net/http"
)

// Error is the canonical error type for the Gather API. Cause is kept for
// server-side logging and never serialized to clients.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Transient marks a store/network hiccup. The subscription manager retries
// these with backoff; write paths retry once (all writes are idempotent
// set-ops or atomic increments).
func Transient(cause error) *Error {
	return &Error{
		Code:       "TRANSIENT",
		Message:    "Temporary backend error",
		HTTPStatus: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// PermissionDenied rejects an operation the caller is not allowed to perform
// (author/owner checks). Never retried.
func PermissionDenied(msg string) *Error {
	return &Error{
		Code:       "PERMISSION_DENIED",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound reports that a referenced entity no longer exists. The UI treats
// this as "already deleted".
func NotFound(resource string) *Error {
	return &Error{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict rejects an operation that would violate a uniqueness invariant,
// e.g. a second pending join request for the same pair.
func Conflict(msg string) *Error {
	return &Error{
		Code:       "CONFLICT",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// Invalid rejects malformed input before it reaches the store.
func Invalid(msg string) *Error {
	return &Error{
		Code:       "INVALID",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal wraps an unexpected server-side failure.
func Internal(cause error) *Error {
	return &Error{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsTransient reports whether err is a retryable store hiccup.
func IsTransient(err error) bool {
	ae := As(err)
	return ae != nil && ae.Code == "TRANSIENT"
}

// IsNotFound reports whether err means the entity vanished.
func IsNotFound(err error) bool {
	ae := As(err)
	return ae != nil && ae.Code == "NOT_FOUND"
}
