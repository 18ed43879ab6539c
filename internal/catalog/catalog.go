// Package catalog records, in a relational store, which container
// holds each packed file, so the retrieval façade can answer "where is
// this file" without touching the remote blob service, and so the
// daemons can confirm at startup that their worker identity row exists.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Lookup and GetWorker when no row matches.
var ErrNotFound = errors.New("catalog: entry not found")

// Entry is one packed file's location: which container (bundle) holds
// it and which worker packed it. Byte offsets are not stored here;
// they live in the container's own CAF index and are resolved by
// mounting the container, keyed by the same task_id/file_path member
// path the pipeline wrote it under.
type Entry struct {
	ID        int64
	TaskID    string
	FilePath  string
	BundleID  string
	WorkerID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Worker is a persistent identity row selected by worker ID. The
// daemons only check that the row exists; Address and Seed are stored
// but not read by any adapter, and the remote blob adapter
// authenticates with the blob_service credentials from the config.
type Worker struct {
	ID        int64
	Address   string
	Seed      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the catalog contract the pipeline writes to and the
// retrieval façade reads from.
type Store interface {
	// Insert records entries. Implementations must make one container's
	// batch of inserts atomic: either all of a container's files land
	// or none do, matching the pipeline's ack-after-handoff invariant.
	Insert(ctx context.Context, entries []Entry) error

	// Lookup finds the entry for taskID/filePath.
	Lookup(ctx context.Context, taskID, filePath string) (Entry, error)

	// GetWorker returns the persistent identity row for workerID.
	GetWorker(ctx context.Context, workerID int64) (Worker, error)

	// UpsertWorker creates or updates a worker's identity row.
	UpsertWorker(ctx context.Context, w Worker) error

	Close() error
}

// SQLiteStore is the default Store, backed by a local SQLite database
// in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// runs its migrations.
func Open(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("catalog: create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping db: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  file_path TEXT NOT NULL,
  task_id TEXT NOT NULL,
  bundle_id TEXT NOT NULL,
  js_worker_id TEXT NOT NULL,
  created_at REAL NOT NULL,
  updated_at REAL NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_files_task_file ON files(task_id, file_path);
CREATE INDEX IF NOT EXISTS idx_files_bundle ON files(bundle_id);

CREATE TABLE IF NOT EXISTS workers (
  id INTEGER PRIMARY KEY,
  address TEXT NOT NULL,
  seed TEXT NOT NULL,
  created_at REAL NOT NULL,
  updated_at REAL NOT NULL
);
`

// Insert implements Store. All entries are written in one transaction,
// so a container's files land in the catalog atomically.
func (s *SQLiteStore) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (file_path, task_id, bundle_id, js_worker_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("catalog: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		createdAt, updatedAt := unixSeconds(e.CreatedAt), unixSeconds(e.UpdatedAt)
		if _, err := stmt.ExecContext(ctx, e.FilePath, e.TaskID, e.BundleID, e.WorkerID, createdAt, updatedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("catalog: insert %s/%s: %w", e.TaskID, e.FilePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(ctx context.Context, taskID, filePath string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, file_path, bundle_id, js_worker_id, created_at, updated_at
		FROM files WHERE task_id = ? AND file_path = ?
	`, taskID, filePath)

	var e Entry
	var createdAt, updatedAt float64
	err := row.Scan(&e.ID, &e.TaskID, &e.FilePath, &e.BundleID, &e.WorkerID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: lookup %s/%s: %w", taskID, filePath, err)
	}
	e.CreatedAt = fromUnixSeconds(createdAt)
	e.UpdatedAt = fromUnixSeconds(updatedAt)
	return e, nil
}

// GetWorker implements Store.
func (s *SQLiteStore) GetWorker(ctx context.Context, workerID int64) (Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, seed, created_at, updated_at FROM workers WHERE id = ?
	`, workerID)

	var w Worker
	var createdAt, updatedAt float64
	err := row.Scan(&w.ID, &w.Address, &w.Seed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Worker{}, ErrNotFound
	}
	if err != nil {
		return Worker{}, fmt.Errorf("catalog: get worker %d: %w", workerID, err)
	}
	w.CreatedAt = fromUnixSeconds(createdAt)
	w.UpdatedAt = fromUnixSeconds(updatedAt)
	return w, nil
}

// UpsertWorker implements Store.
func (s *SQLiteStore) UpsertWorker(ctx context.Context, w Worker) error {
	now := unixSeconds(time.Now())
	createdAt := now
	if !w.CreatedAt.IsZero() {
		createdAt = unixSeconds(w.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, address, seed, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET address = excluded.address, seed = excluded.seed, updated_at = excluded.updated_at
	`, w.ID, w.Address, w.Seed, createdAt, now)
	if err != nil {
		return fmt.Errorf("catalog: upsert worker %d: %w", w.ID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(v float64) time.Time {
	return time.Unix(0, int64(v*1e9)).UTC()
}
