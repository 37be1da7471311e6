package loom

import (
	"errors"
	"fmt"

	"github.com/syssam/loom/schema"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	// Absence is an expected outcome; callers branch on IsNotFound.
	ErrNotFound = errors.New("loom: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one
	// result returns zero or multiple results.
	ErrNotSingular = errors.New("loom: entity not singular")
)

// SchemaError is an invalid entity or relationship declaration or
// reference. It is always surfaced immediately and never retried.
type SchemaError = schema.Error

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	key   []any // the key tuple that was searched for, if any.
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if len(e.key) > 0 {
		return fmt.Sprintf("loom: %s not found (key=%v)", e.label, e.key)
	}
	return fmt.Sprintf("loom: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity kind label.
func (e *NotFoundError) Label() string {
	return e.label
}

// Key returns the key tuple that was searched for, if available.
func (e *NotFoundError) Key() []any {
	return e.key
}

// NewNotFoundError returns a new NotFoundError for the given entity kind.
func NewNotFoundError(label string, key ...any) *NotFoundError {
	return &NotFoundError{label: label, key: key}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular
// result but receives zero or multiple results.
type NotSingularError struct {
	label string
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	return fmt.Sprintf("loom: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// NewNotSingularError returns a new NotSingularError for the given kind.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// NotLoadedError represents an error when reading a relationship that was
// not loaded. Resolve the relationship explicitly before reading it.
type NotLoadedError struct {
	rel string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("loom: relationship %q was not loaded", e.rel)
}

// NewNotLoadedError returns a new NotLoadedError for the given relationship.
func NewNotLoadedError(rel string) *NotLoadedError {
	return &NotLoadedError{rel: rel}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ConstraintError represents a key or foreign-key violation detected at
// flush time. The session's pending sets are left intact, so the caller
// may fix the write set and retry the commit.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("loom: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// BackendError wraps an opaque failure of the storage backend. The failed
// flush attempt is rolled back; the session's in-memory state is unchanged.
type BackendError struct {
	Op  string // operation that failed, e.g. "fetch", "flush".
	Err error  // underlying driver error.
}

// Error returns the error string.
func (e *BackendError) Error() string {
	return fmt.Sprintf("loom: backend %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError returns a new BackendError.
func NewBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Err: err}
}

// IsBackendError returns true if the error is a BackendError.
func IsBackendError(err error) bool {
	if err == nil {
		return false
	}
	var e *BackendError
	return errors.As(err, &e)
}
