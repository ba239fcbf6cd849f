// Package apperr defines the typed failures returned by the ledger core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable failure class.
type Kind string

const (
	KindUnknown            Kind = "UNKNOWN"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindInvalidState       Kind = "INVALID_STATE"
	KindIntegrityViolation Kind = "INTEGRITY_VIOLATION"
	KindTransactionFailure Kind = "TRANSACTION_FAILURE"
	KindValidation         Kind = "VALIDATION"
)

// Error is a classified failure. Message is safe to show to callers; Err
// carries the underlying cause for server-side logs only.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An already classified error keeps its kind.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var v interface{ ValidationField() string }
	if errors.As(err, &v) {
		return KindValidation
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	var v interface{ ValidationField() string }
	if errors.As(err, &v) {
		return err.Error()
	}
	return "internal error"
}

// HTTPStatus maps a kind to a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalidState:
		return http.StatusConflict
	case KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
