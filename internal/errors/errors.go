// Package errors holds the error definitions shared by the metric store.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Typed errors carrying the operation and path of a failed I/O step
// - Error category checking functions
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrInvalidRecord is returned when no usable timestamp can be derived
	// from a record. It is raised before any I/O happens.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage error")

	// ErrClose is matched by every *CloseError.
	ErrClose = errors.New("close error")

	// ErrCleanup marks failures that happen after an atomic rename already
	// made the new representation visible. Data is safe, leftovers remain.
	ErrCleanup = errors.New("cleanup failed")

	// ErrCorruptArchive is returned when an archive holds a record that
	// belongs to a different day.
	ErrCorruptArchive = errors.New("corrupt archive")

	// Lookup errors
	ErrNotFound       = errors.New("not found")
	ErrBucketNotFound = errors.New("bucket not found")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrUnknownCodec  = errors.New("unknown codec")

	// State errors
	ErrClosed         = errors.New("closed")
	ErrAlreadyRunning = errors.New("already running")
)

// ============================================================================
// Typed errors
// ============================================================================

// StorageError describes a failed filesystem step (mkdir, open, read, write,
// rename, delete) together with the path involved.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// NewStorageError wraps err with the operation and path. A nil err yields nil.
func NewStorageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s '%s': %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports every StorageError as ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// CloseError describes a failure while releasing a writer or reader handle.
type CloseError struct {
	Path string
	Err  error
}

// NewCloseError wraps err with the path of the handle. A nil err yields nil.
func NewCloseError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &CloseError{Path: path, Err: err}
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	return fmt.Sprintf("close '%s': %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CloseError) Unwrap() error { return e.Err }

// Is reports every CloseError as ErrClose.
func (e *CloseError) Is(target error) bool { return target == ErrClose }

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsInvalidRecord returns true if err rejected a record before any I/O.
func IsInvalidRecord(err error) bool {
	return errors.Is(err, ErrInvalidRecord)
}

// IsStorage returns true if err came from a filesystem step.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsCleanup returns true if err is a post-rename cleanup failure.
func IsCleanup(err error) bool {
	return errors.Is(err, ErrCleanup)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBucketNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownCodec)
}

// NewInvalidRecord creates an invalid-record error with a reason.
func NewInvalidRecord(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidRecord)
}

// NewBucketNotFound creates a bucket-not-found error for name.
func NewBucketNotFound(name string) error {
	return fmt.Errorf("bucket '%s': %w", name, ErrBucketNotFound)
}

// NewCleanup marks err as a cleanup failure for path.
func NewCleanup(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCleanup, NewStorageError(op, path, err))
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
