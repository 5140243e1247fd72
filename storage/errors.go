package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no object exists at a URI.
	ErrNotFound = errors.New("storage: object not found")

	// ErrAlreadyExists is returned when creating over an existing object.
	ErrAlreadyExists = errors.New("storage: object already exists")

	// ErrKeyNotFound is returned when a group has no member with the given key.
	ErrKeyNotFound = errors.New("storage: member key not found")

	// ErrWrongObjectType is returned when the object stored at a URI is not
	// of the kind the caller asked to open (e.g. opening an array as a group).
	ErrWrongObjectType = errors.New("storage: stored object has unexpected type")

	// ErrClosed is returned when operating on a closed or read-only handle.
	ErrClosed = errors.New("storage: handle is closed")
)

// OpError records the failing operation and URI alongside the underlying error.
type OpError struct {
	Op  string
	URI string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, uri string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, URI: uri, Err: err}
}
