package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DirConsumer is a filesystem-backed Consumer: one JSON file per
// message, claimed by atomically renaming it from a pending directory
// into an inflight directory. It exists so the pipeline can run
// end-to-end without standing up a separate broker, the same role the
// teacher's spool directory plays for its own ingest loop.
//
// A message left in the inflight directory by a consumer that stopped
// between Receive and Ack/Nack is not moved back to pending;
// DirConsumer never redelivers it.
type DirConsumer struct {
	pendingDir  string
	inflightDir string
	pollEvery   time.Duration
}

// NewDirConsumer creates the pending and inflight subdirectories under
// baseDir if they do not exist.
func NewDirConsumer(baseDir string) (*DirConsumer, error) {
	pending := filepath.Join(baseDir, "pending")
	inflight := filepath.Join(baseDir, "inflight")
	for _, d := range []string{pending, inflight} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("queue: create %s: %w", d, err)
		}
	}
	return &DirConsumer{pendingDir: pending, inflightDir: inflight, pollEvery: 500 * time.Millisecond}, nil
}

// SetPollInterval overrides the default polling interval. Intended for
// tests.
func (c *DirConsumer) SetPollInterval(d time.Duration) { c.pollEvery = d }

// Enqueue writes req as a new pending message and returns its ID.
func Enqueue(baseDir string, req UploadRequest) (string, error) {
	id := uuid.New().String()
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("queue: marshal request: %w", err)
	}
	pendingDir := filepath.Join(baseDir, "pending")
	if err := os.MkdirAll(pendingDir, 0755); err != nil {
		return "", fmt.Errorf("queue: create %s: %w", pendingDir, err)
	}
	path := filepath.Join(pendingDir, id+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("queue: write %s: %w", path, err)
	}
	return id, nil
}

// Receive implements Consumer by polling the pending directory for the
// oldest claimable file and atomically renaming it into inflight.
func (c *DirConsumer) Receive(ctx context.Context) (*Message, error) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		msg, err := c.tryClaim()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *DirConsumer) tryClaim() (*Message, error) {
	entries, err := os.ReadDir(c.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		ii, _ := entries[i].Info()
		jj, _ := entries[j].Info()
		if ii == nil || jj == nil {
			return entries[i].Name() < entries[j].Name()
		}
		return ii.ModTime().Before(jj.ModTime())
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pendingPath := filepath.Join(c.pendingDir, entry.Name())
		inflightPath := filepath.Join(c.inflightDir, entry.Name())

		// Rename is the atomic claim: if another consumer already
		// claimed this file, the rename fails and we move on.
		if err := os.Rename(pendingPath, inflightPath); err != nil {
			continue
		}

		data, err := os.ReadFile(inflightPath)
		if err != nil {
			return nil, fmt.Errorf("queue: read claimed message %s: %w", entry.Name(), err)
		}
		var req UploadRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// Unparseable messages are requeued rather than abandoned
			// in inflight, so a bad message doesn't sit there forever.
			if renameErr := os.Rename(inflightPath, pendingPath); renameErr != nil {
				return nil, fmt.Errorf("queue: requeue unparseable message %s: %w", entry.Name(), renameErr)
			}
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(filepath.Ext(entry.Name()))]
		return &Message{ID: id, Request: req}, nil
	}
	return nil, nil
}

// Ack implements Consumer.
func (c *DirConsumer) Ack(ctx context.Context, msg *Message) error {
	path := filepath.Join(c.inflightDir, msg.ID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("queue: ack %s: %w", msg.ID, err)
	}
	return nil
}

// Nack implements Consumer by moving the message back to pending.
func (c *DirConsumer) Nack(ctx context.Context, msg *Message) error {
	from := filepath.Join(c.inflightDir, msg.ID+".json")
	to := filepath.Join(c.pendingDir, msg.ID+".json")
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("queue: nack %s: %w", msg.ID, err)
	}
	return nil
}
