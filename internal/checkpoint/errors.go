package checkpoint

import "errors"

// Common errors shared by all Store implementations.
var (
	// ErrNotFound is returned when no checkpoint exists for the key.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidCheckpoint is returned when a checkpoint fails basic
	// structural validation before being stored.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
