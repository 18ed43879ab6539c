// Package cache keeps recently-served containers mounted locally so
// the retrieval façade can answer repeated reads without re-fetching
// the whole container from the remote blob service every time.
package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/caf"
)

// DefaultDownloadTimeout is the façade's container download deadline
// when Cache.DownloadTimeout is left at its zero value.
const DefaultDownloadTimeout = 300 * time.Second

// Cache fetches containers from a blobstore.Store on miss, validates
// them, and keeps their parsed index warm in memory. It generalizes
// the teacher's content-addressed blob store: containers are keyed by
// container ID instead of a content hash, and are never compressed,
// since CAF forbids per-member or whole-container compression.
type Cache struct {
	dir   string
	blobs blobstore.Store

	// DownloadTimeout bounds a single GetContainer call. Zero means
	// DefaultDownloadTimeout.
	DownloadTimeout time.Duration

	mu      sync.Mutex
	fetches map[string]*sync.Mutex
	mounted map[string]*caf.Reader
}

// New returns a Cache that stores fetched containers under dir and
// falls back to blobs on miss.
func New(dir string, blobs blobstore.Store) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &Cache{
		dir:     dir,
		blobs:   blobs,
		fetches: make(map[string]*sync.Mutex),
		mounted: make(map[string]*caf.Reader),
	}, nil
}

func (c *Cache) downloadTimeout() time.Duration {
	if c.DownloadTimeout > 0 {
		return c.DownloadTimeout
	}
	return DefaultDownloadTimeout
}

// localPath mirrors spec.md's `<temp_dir>/<rec.container_name>` rule:
// containerID (the catalog's bundle_id) is already the container's
// full file name, e.g. "batch_1699999999999.caf".
func (c *Cache) localPath(containerID string) string {
	return filepath.Join(c.dir, containerID)
}

// lockFor returns a per-container mutex so concurrent requests for the
// same cold container collapse into a single fetch instead of each
// downloading it.
func (c *Cache) lockFor(containerID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.fetches[containerID]
	if !ok {
		l = &sync.Mutex{}
		c.fetches[containerID] = l
	}
	return l
}

// Get returns a mounted Reader for containerID, fetching and
// validating it from the remote blob service if it is not already
// present locally or if the local copy fails validation.
func (c *Cache) Get(ctx context.Context, containerID string) (*caf.Reader, error) {
	c.mu.Lock()
	if r, ok := c.mounted[containerID]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	lock := c.lockFor(containerID)
	lock.Lock()
	defer lock.Unlock()

	// Another request may have finished the fetch while we waited for
	// the per-container lock.
	c.mu.Lock()
	if r, ok := c.mounted[containerID]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.loadOrFetch(ctx, containerID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.mounted[containerID] = r
	c.mu.Unlock()
	return r, nil
}

func (c *Cache) loadOrFetch(ctx context.Context, containerID string) (*caf.Reader, error) {
	path := c.localPath(containerID)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if r, err := validate(path); err == nil {
			return r, nil
		}
		// Local copy failed validation; discard and re-fetch.
		os.Remove(path)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.downloadTimeout())
	defer cancel()
	if err := c.fetch(fetchCtx, containerID, path); err != nil {
		return nil, err
	}

	r, err := validate(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("cache: fetched container %s failed validation: %w", containerID, err)
	}
	return r, nil
}

// validate opens path with the CAF reader and confirms its index
// loads and lists at least one member.
func validate(path string) (*caf.Reader, error) {
	r := caf.NewReader(path)
	if err := r.LoadIndex(); err != nil {
		return nil, err
	}
	members, err := r.List()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("container has an empty file list")
	}
	return r, nil
}

func (c *Cache) fetch(ctx context.Context, containerID, path string) error {
	body, _, err := c.blobs.GetContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("cache: fetch container %s: %w", containerID, err)
	}
	defer body.Close()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cache: write fetched container: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: close fetched container: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: finalize fetched container: %w", err)
	}
	return nil
}

// Evict drops containerID from the in-memory mount table, forcing the
// next Get to re-validate from disk.
func (c *Cache) Evict(containerID string) {
	c.mu.Lock()
	delete(c.mounted, containerID)
	c.mu.Unlock()
}

// Release evicts containerID and removes its local copy from disk. It
// is used by the retrieval façade when container caching is disabled,
// so each served file leaves nothing behind. Failure to remove the
// file is returned but never fatal to the caller's response.
func (c *Cache) Release(containerID string) error {
	c.Evict(containerID)
	if err := os.Remove(c.localPath(containerID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: release container %s: %w", containerID, err)
	}
	return nil
}
