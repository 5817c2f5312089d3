package cache

import "errors"

var (
	// ErrNotFound is the miss signal: no usable embedding exists and
	// none could be generated. Callers decide whether that is fatal.
	ErrNotFound = errors.New("embedding not found")

	// Entry validation errors
	ErrDimensionMismatch = errors.New("embedding dimension violates contract")
	ErrInvalidEntry      = errors.New("invalid cache entry")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)
