// Package queue defines the contract the packing pipeline uses to pull
// per-file upload requests and acknowledge or requeue them, plus a
// filesystem-backed default implementation for running the pipeline
// without a separate broker.
package queue

// UploadRequest is the payload of one queue message: one file to be
// packed into a container. file_path both identifies the packed
// member and, once sanitized, the key the object-store adapter is
// asked to stream.
type UploadRequest struct {
	TaskID   string `json:"task_id"`
	FilePath string `json:"file_path"`
}

// Message wraps an UploadRequest with whatever broker-specific handle
// Ack/Nack need to settle it.
type Message struct {
	ID      string
	Request UploadRequest
}
