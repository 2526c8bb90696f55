package bridge

import "errors"

var (
	// ErrNotInitialized is returned by every operation that needs a live
	// pool before Initialize has succeeded, and after Close.
	ErrNotInitialized = errors.New("bridge: not initialized")

	// ErrInvalidSize is returned when a caller asks for a zero-byte buffer.
	ErrInvalidSize = errors.New("bridge: invalid allocation size")

	// ErrInvalidAlignment is returned for alignments that are zero or not a
	// power of two.
	ErrInvalidAlignment = errors.New("bridge: invalid alignment")

	// ErrOutOfMemory is returned when the pool cannot produce a buffer.
	ErrOutOfMemory = errors.New("bridge: allocation failed")
)
