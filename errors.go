package soma

import (
	"errors"
	"fmt"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

var (
	// ErrNotFound is returned when no object exists at a URI.
	ErrNotFound = errors.New("soma: object not found")

	// ErrAlreadyExists is returned when creating an object over an existing one.
	ErrAlreadyExists = errors.New("soma: object already exists")

	// ErrKeyNotFound is returned by Get and Del for an absent member key.
	ErrKeyNotFound = errors.New("soma: member key not found")

	// ErrInvalidState is returned when an operation is attempted on a closed
	// collection, or a mutation on a collection opened read-only.
	ErrInvalidState = errors.New("soma: invalid state")

	// ErrTypeMismatch is returned when the object stored at a URI is not of
	// the kind the caller asked to open.
	ErrTypeMismatch = errors.New("soma: stored object type mismatch")
)

// CorruptMetadataError indicates a stored member whose kind tag matches no
// known concrete type. It is fatal and never retried.
type CorruptMetadataError struct {
	Key  string
	Kind string
}

func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("soma: corrupt metadata: member %q has unknown kind %q", e.Key, e.Kind)
}

// ShapeMismatchError indicates ndarray data that does not fit the schema.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ShapeMismatchError struct {
	Expected int64
	Actual   int64
	cause    error
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("soma: shape mismatch: expected %d cells, got %d", e.Expected, e.Actual)
}

func (e *ShapeMismatchError) Unwrap() error { return e.cause }

// StorageError wraps an engine failure with enough context to identify the
// failing URI and operation. The engine error is preserved via Unwrap.
type StorageError struct {
	Op  string
	URI string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("soma: %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// translateError normalizes engine errors at the API boundary. Sentinel
// conditions map onto the soma taxonomy; everything else is surfaced as a
// StorageError, wrapped and never swallowed.
func translateError(op, uri string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", ErrKeyNotFound, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, storage.ErrWrongObjectType):
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	case errors.Is(err, storage.ErrClosed):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	return &StorageError{Op: op, URI: uri, Err: err}
}
