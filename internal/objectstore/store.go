// Package objectstore streams the source bytes of individual uploaded
// files out of whatever backend holds them, for the packing pipeline to
// copy into a container.
package objectstore

import (
	"context"
	"io"
)

// Store opens a read stream for a single object. Implementations must
// return the exact content length alongside the stream so callers can
// pass it as AppendStream's declaredLength without a separate round
// trip.
type Store interface {
	// OpenStream returns a reader positioned at the start of key's
	// content and the content's length in bytes. The caller must Close
	// the returned reader.
	OpenStream(ctx context.Context, key string) (io.ReadCloser, int64, error)
}
