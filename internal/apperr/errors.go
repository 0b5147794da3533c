// Package apperr defines the error kinds produced by the coverage and
// topology core. HTTP status mapping lives in internal/api.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidGeometry
	KindNotFound
	KindConflict
	KindUnavailable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidGeometry:
		return "invalid_geometry"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidGeometry = errors.New("invalid geometry")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
)

// Error is a classified error. Field is set for validation failures.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel belonging to the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInvalidGeometry:
		return ErrInvalidGeometry
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindUnavailable:
		return ErrUnavailable
	}
	return nil
}

// Invalid reports a validation failure on field.
func Invalid(field, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Geometry reports malformed, unclosed or degenerate geometry.
func Geometry(field, format string, args ...any) error {
	return &Error{Kind: KindInvalidGeometry, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing tenant-scoped entity.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Conflict reports a uniqueness violation.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a store or index failure that may clear on its own.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Message: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Context expiry counts as unavailable.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	return KindInternal
}

// FieldOf returns the offending field of a validation error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
