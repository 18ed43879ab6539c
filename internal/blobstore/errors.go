package blobstore

import "errors"

var (
	// ErrNotFound is returned when a container is not present in the
	// remote blob service.
	ErrNotFound = errors.New("blobstore: container not found")

	// ErrPutFailed wraps the terminal error from PutContainer after all
	// retries have been exhausted.
	ErrPutFailed = errors.New("blobstore: put container failed")

	// ErrProofsUnavailable is returned when the remote service cannot
	// produce proofs for a container, distinct from a transport error so
	// callers can decide whether to retry.
	ErrProofsUnavailable = errors.New("blobstore: proofs unavailable")
)
