// Package blobstore ships finalized containers to the remote service
// that durably holds them, and fetches per-file integrity proofs back
// out for the retrieval façade.
package blobstore

import (
	"context"
	"io"
)

// Proof is a single file's integrity record as reported by the remote
// blob service. FilePath is the file's catalog file_path (without the
// task_id prefix of its member path); the proof cache matches on it.
type Proof struct {
	FilePath  string `json:"file_path"`
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
}

// Store is the contract the packing pipeline and retrieval façade use
// to talk to whatever service durably holds finished containers.
type Store interface {
	// PutContainer uploads a finalized container's bytes under
	// containerID. The pipeline only acks its queue messages after this
	// succeeds.
	PutContainer(ctx context.Context, containerID string, body io.Reader, size int64) error

	// GetContainer opens a read stream for a previously-put container
	// and returns its size.
	GetContainer(ctx context.Context, containerID string) (io.ReadCloser, int64, error)

	// GetProofs returns the integrity proofs for every member of
	// containerID.
	GetProofs(ctx context.Context, containerID string) ([]Proof, error)
}
