package pipeline

import (
	"errors"
	"time"
)

// Resource limits bounding one packing pipeline worker, mirroring the
// shape of the teacher's own resource limiter for its sync pulls.
const (
	// DefaultMaxContainerBytes is the default container capacity budget
	// (B_max), matching the CAF format's own hard ceiling.
	DefaultMaxContainerBytes = 32 * 1024 * 1024 * 1024 // 32 GiB

	// DefaultMaxFilesPerContainer bounds how many members accumulate in
	// one container before a forced finalize, independent of byte size.
	DefaultMaxFilesPerContainer = 50000

	// DefaultInactivityTimeout is how long an Open container waits for
	// its next file before finalizing early.
	DefaultInactivityTimeout = 5 * time.Minute

	// DefaultDownloadTimeout bounds a single object-store stream copy.
	DefaultDownloadTimeout = 5 * time.Minute
)

// ErrFileTooLargeForContainer names the case of a single file whose
// declared size exceeds the container budget on its own, so no
// container could ever hold it. The pipeline does not return it: such
// messages are dropped (acked and logged) instead.
var ErrFileTooLargeForContainer = errors.New("pipeline: file exceeds container capacity")
