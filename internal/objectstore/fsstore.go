package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore serves objects from a local directory tree. It exists for
// local development and tests where wiring a real S3-compatible
// endpoint is unnecessary.
type FSStore struct {
	root string
}

// NewFSStore returns a Store rooted at root. Keys are joined onto root
// after Sanitize, the same way S3Store joins keys onto a bucket prefix.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// OpenStream implements Store.
func (s *FSStore) OpenStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	path := filepath.Join(s.root, Sanitize(key))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("objectstore: open %q: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("objectstore: stat %q: %w", key, err)
	}
	return f, info.Size(), nil
}
