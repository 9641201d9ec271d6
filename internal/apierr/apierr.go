// Package apierr implements the error taxonomy of §7: a closed set of
// kinds, each mapped to one HTTP status, surfaced to callers as the
// {detail: string} envelope and never leaking internals.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is one of the taxonomy's closed set of error classes.
type Kind string

const (
	KindAuthFailure      Kind = "auth_failure"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation_error"
	KindNoCapacity       Kind = "no_capacity"
	KindConflict         Kind = "conflict"
	KindInternal         Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindAuthFailure:      http.StatusUnauthorized,
	KindPermissionDenied: http.StatusForbidden,
	KindNotFound:         http.StatusNotFound,
	KindValidation:       http.StatusBadRequest,
	KindNoCapacity:       http.StatusServiceUnavailable,
	KindConflict:         http.StatusConflict,
	KindInternal:         http.StatusInternalServerError,
}

// Error is a taxonomy-classified error carrying the human-readable detail
// that is safe to return to a caller verbatim.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Detail + ": " + e.cause.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code this kind maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

func AuthFailure(detail string) *Error      { return New(KindAuthFailure, detail) }
func PermissionDenied(detail string) *Error { return New(KindPermissionDenied, detail) }
func NotFound(detail string) *Error         { return New(KindNotFound, detail) }
func Validation(detail string) *Error       { return New(KindValidation, detail) }
func NoCapacity(detail string) *Error       { return New(KindNoCapacity, detail) }
func Conflict(detail string) *Error         { return New(KindConflict, detail) }
func Internal(detail string, cause error) *Error {
	return Wrap(KindInternal, detail, cause)
}

// As extracts an *Error from err, following the standard unwrap chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
