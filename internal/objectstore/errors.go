package objectstore

import "errors"

// Errors returned by Store implementations and key sanitization.
var (
	// ErrNotFound is returned when a key does not exist in the backing
	// store.
	ErrNotFound = errors.New("objectstore: object not found")

	// ErrInvalidKey is returned by Desanitize when a key contains an
	// escape sequence that Sanitize could never have produced.
	ErrInvalidKey = errors.New("objectstore: invalid object key")
)
