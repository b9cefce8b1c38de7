package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can decide whether to retry and how to surface it.
type Kind int

const (
	KindUnknown            Kind = iota
	KindNotFound                // Missing instance, task, template or lookup code
	KindInvalidState            // Operation not allowed in the current phase
	KindUnauthorized            // Caller is not an assignee or not the claimant
	KindConcurrentConflict      // Lost a race; the caller may retry
	KindInvariantViolation      // Stock invariant broken; the posting is rolled back
	KindInvalidArgument         // Malformed input
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindConcurrentConflict:
		return "CONCURRENT_CONFLICT"
	case KindInvariantViolation:
		return "INVARIANT_VIOLATION"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	default:
		return "UNKNOWN"
	}
}

// Error is a coded domain error. Two errors are considered equal by errors.Is when their codes match,
// which lets a detailed error created with Newf match its package-level sentinel.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// New creates a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Newf returns a copy of the sentinel with a formatted message.
func (e *Error) Newf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the code of the first *Error in err's chain, or "INTERNAL_ERROR".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus maps an error to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindInvalidState, KindInvariantViolation:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusForbidden
	case KindConcurrentConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
