// Package apperr defines the error taxonomy shared by the pipeline stages
// and the API layer. Callers classify with errors.Is against the sentinel
// kinds; the wrapped cause stays reachable through errors.Unwrap.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrCompute     = errors.New("compute error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
	ErrInvalid     = errors.New("invalid input")
	ErrForbidden   = errors.New("forbidden")
)

// Error attaches a kind and an operation label to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Persistence wraps a store failure. Returns nil for a nil err.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// NotFound reports a missing entity.
func NotFound(what, id string) error {
	return &Error{Kind: ErrNotFound, Op: fmt.Sprintf("%s %q", what, id)}
}

// Compute reports a value that cannot be derived from its inputs.
func Compute(format string, args ...any) error {
	return &Error{Kind: ErrCompute, Op: fmt.Sprintf(format, args...)}
}

// Conflict reports a concurrent or duplicate operation.
func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: fmt.Sprintf(format, args...)}
}

// Invalid reports rejected caller input.
func Invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalid, Op: fmt.Sprintf(format, args...)}
}

// Forbidden reports an operation the caller's role does not allow.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Op: fmt.Sprintf(format, args...)}
}
