package core

import (
	"errors"
	"fmt"
)

// Kind tags a core error so callers can branch on it with errors.As without
// string-matching a message. Transport/Upstream and Unexpected failures are
// represented by the ordinary wrapped-error path (fmt.Errorf with %w)
// because the controller contains them locally rather than surfacing a kind
// to the caller.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindCapacity      Kind = "capacity"
	KindNotFound      Kind = "not_found"
	KindDuplicate     Kind = "duplicate"
	KindPersistence   Kind = "persistence"
	KindIntegrity     Kind = "integrity"
)

// Error is the tagged error type used throughout the core. Construct it with
// the New* helpers below; match it with errors.As(&core.Error{}).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &core.Error{Kind: core.KindNotFound}) to match on
// Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrValidation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, format, args...)
}

func ErrAuthorization(format string, args ...interface{}) *Error {
	return newErr(KindAuthorization, format, args...)
}

func ErrState(format string, args ...interface{}) *Error {
	return newErr(KindState, format, args...)
}

func ErrCapacity(format string, args ...interface{}) *Error {
	return newErr(KindCapacity, format, args...)
}

func ErrNotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

func ErrDuplicate(format string, args ...interface{}) *Error {
	return newErr(KindDuplicate, format, args...)
}

func ErrPersistence(format string, args ...interface{}) *Error {
	return newErr(KindPersistence, format, args...)
}

func ErrIntegrity(format string, args ...interface{}) *Error {
	return newErr(KindIntegrity, format, args...)
}

// IsKind reports whether err (or anything it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == k
}
