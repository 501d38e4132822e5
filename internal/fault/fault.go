// Package fault provides the structured error taxonomy shared by the
// retrieval, ingestion, and serving layers.
//
// Every externally visible failure is classified into a Kind so handlers can
// map it to an HTTP status and job workers can decide whether to retry.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindInvalidArgument means the caller violated a precondition.
	KindInvalidArgument Kind = iota
	// KindNotFound means the scope, session, or document is absent.
	KindNotFound
	// KindConflict means a concurrent ingestion was detected on the same scope.
	KindConflict
	// KindDependencyMissing means a required model or external index is unavailable.
	KindDependencyMissing
	// KindProviderProtocol means an external provider returned malformed data.
	KindProviderProtocol
	// KindTransient means a network error or timeout; retriable.
	KindTransient
	// KindFatal means an invariant was violated; not retriable.
	KindFatal
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDependencyMissing:
		return "dependency_missing"
	case KindProviderProtocol:
		return "provider_protocol_error"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error carries a kind, a message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind so errors.Is works with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil for a nil cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Invalid is shorthand for an InvalidArgument error.
func Invalid(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

// NotFound is shorthand for a NotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// KindOf returns the kind of err, or KindFatal for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// IsRetryable reports whether the error should be retried by job workers.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps an error to the status code served to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
