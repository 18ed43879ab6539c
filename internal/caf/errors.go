package caf

import "errors"

// Error values returned by the writer and reader. Callers use errors.Is to
// classify failures the way the teacher's sync package does with
// ErrNotFound and the resource-limit errors.
var (
	// ErrDuplicateMember is returned by AppendBuffer/AppendStream when a
	// member path has already been recorded in this container.
	ErrDuplicateMember = errors.New("caf: duplicate member path")

	// ErrEmptyMember is returned when a member's byte length is zero.
	// start_byte == end_byte is an index invariant violation, so empty
	// members are rejected at the writer boundary.
	ErrEmptyMember = errors.New("caf: empty member not allowed")

	// ErrSizeMismatch is returned by AppendStream when the stream yields a
	// different number of bytes than declared.
	ErrSizeMismatch = errors.New("caf: stream size does not match declared length")

	// ErrCopyTimeout is returned by AppendStream when the bounded copy
	// deadline elapses before the stream is fully drained.
	ErrCopyTimeout = errors.New("caf: append stream timed out")

	// ErrUseAfterFinalize is returned by any writer operation performed
	// after Finalize has completed.
	ErrUseAfterFinalize = errors.New("caf: writer used after finalize")

	// ErrIndexNotLoaded is returned by any reader operation performed
	// before LoadIndex.
	ErrIndexNotLoaded = errors.New("caf: index not loaded")

	// ErrUnsupportedVersion is returned by LoadIndex when format_version
	// is not "1.0".
	ErrUnsupportedVersion = errors.New("caf: unsupported format version")

	// ErrCorruptContainer is returned by LoadIndex when the footer or
	// index region fails structural validation.
	ErrCorruptContainer = errors.New("caf: corrupt container")

	// ErrMemberNotFound is returned by Extract/Metadata for an absent
	// member path.
	ErrMemberNotFound = errors.New("caf: member not found")
)
