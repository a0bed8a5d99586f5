// Package apperr defines the sentinel errors shared across Gaiden components.
package apperr

import "errors"

var (
	// ErrNotFound indicates a guide, bookmark, or collection does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates an import collides with an existing guide.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict indicates a concurrent modification was detected.
	ErrConflict = errors.New("conflict")
	// ErrEmptyDocument indicates an import with no content at all.
	ErrEmptyDocument = errors.New("empty document")
	// ErrInvalidEncoding indicates the input is not valid UTF-8 text.
	ErrInvalidEncoding = errors.New("invalid encoding")
	// ErrOutOfRange indicates a line or range outside the guide's bounds.
	ErrOutOfRange = errors.New("line out of range")
	// ErrCycle indicates a collection move that would create a parent cycle.
	ErrCycle = errors.New("collection cycle")
)
