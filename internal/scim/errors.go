// Package scim implements SCIM 2.0 provisioning: attribute path resolution,
// PATCH operation dispatch, and the User/Group resource handlers (RFC 7644).
package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provisioning failure.
type ErrorKind int

const (
	// KindMalformedPath means a path expression yielded no attribute reference.
	KindMalformedPath ErrorKind = iota
	// KindBadRequest covers client errors: unknown op codes, remove without
	// a path, invalid email payloads, references to non-existent users.
	KindBadRequest
	// KindNotImplemented marks protocol-valid paths/ops this server does not support.
	KindNotImplemented
	// KindNotFound means the addressed resource does not exist.
	KindNotFound
	// KindConflict means a uniqueness constraint was violated.
	KindConflict
)

// Error is a typed provisioning error carrying the RFC 7644 scimType
// discriminator alongside a human-readable detail.
type Error struct {
	Kind     ErrorKind
	ScimType string
	Detail   string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status code
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindMalformedPath, KindBadRequest:
		return http.StatusBadRequest
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MalformedPath creates an error for a path expression with no resolvable
// attribute reference.
func MalformedPath(detail string) *Error {
	return &Error{Kind: KindMalformedPath, ScimType: "invalidPath", Detail: detail}
}

// BadRequest creates a generic client error
func BadRequest(detail string) *Error {
	return &Error{Kind: KindBadRequest, ScimType: "invalidValue", Detail: detail}
}

// NoTarget creates the client error mandated for a remove operation that
// names no path (RFC 7644 3.5.2.2).
func NoTarget(detail string) *Error {
	return &Error{Kind: KindBadRequest, ScimType: "noTarget", Detail: detail}
}

// NotImplemented creates an error for a path/op combination this server
// recognizes as valid SCIM but intentionally does not support.
func NotImplemented(detail string) *Error {
	return &Error{Kind: KindNotImplemented, Detail: detail}
}

// NotFound creates an error for a missing resource
func NotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

// Conflict creates a uniqueness violation error
func Conflict(detail string) *Error {
	return &Error{Kind: KindConflict, ScimType: "uniqueness", Detail: detail}
}

// IsKind reports whether err is a *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
