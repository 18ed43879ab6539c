// Package proofcache caches per-file integrity proofs fetched from the
// remote blob service, so repeated /file-proof requests for the same
// file don't each trigger a fresh upstream call.
package proofcache

import (
	"context"
	"sync"
	"time"

	"github.com/cafpack/cafpack/internal/blobstore"
)

// TTL is how long a cached proof stays valid.
const TTL = 60 * time.Second

// JanitorInterval is how often expired entries are swept out.
const JanitorInterval = 30 * time.Second

type key struct {
	containerID string
	filePath    string
	taskID      string
}

type entry struct {
	proofs    []blobstore.Proof
	expiresAt time.Time
}

// Cache holds recently-fetched proofs keyed by (container, filePath,
// taskID), since the same member path can legitimately appear in
// containers packed for different tasks.
type Cache struct {
	blobs blobstore.Store

	mu      sync.Mutex
	entries map[key]entry

	stop chan struct{}
}

// New returns a Cache that falls back to blobs.GetProofs on miss and
// starts its janitor goroutine. Call Close to stop the janitor.
func New(blobs blobstore.Store) *Cache {
	c := &Cache{
		blobs:   blobs,
		entries: make(map[key]entry),
		stop:    make(chan struct{}),
	}
	go c.runJanitor()
	return c
}

// Get returns the proof set for filePath within containerID/taskID,
// fetching and caching the container's full proof set on miss. The
// remote blob service models proofs as an opaque list per file, so a
// hit may contain more than one proof record.
func (c *Cache) Get(ctx context.Context, containerID, taskID, filePath string) ([]blobstore.Proof, error) {
	k := key{containerID: containerID, filePath: filePath, taskID: taskID}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.proofs, nil
	}
	c.mu.Unlock()

	proofs, err := c.blobs.GetProofs(ctx, containerID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]blobstore.Proof)
	for _, p := range proofs {
		grouped[p.FilePath] = append(grouped[p.FilePath], p)
	}

	expiresAt := time.Now().Add(TTL)

	c.mu.Lock()
	for path, ps := range grouped {
		pk := key{containerID: containerID, filePath: path, taskID: taskID}
		c.entries[pk] = entry{proofs: ps, expiresAt: expiresAt}
	}
	c.mu.Unlock()

	found, ok := grouped[filePath]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return found, nil
}

func (c *Cache) runJanitor() {
	ticker := time.NewTicker(JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	close(c.stop)
}
