package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_InsertAndLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []Entry{
		{TaskID: "task-1", FilePath: "a.txt", BundleID: "c1", WorkerID: "1", CreatedAt: now, UpdatedAt: now},
		{TaskID: "task-1", FilePath: "b.txt", BundleID: "c1", WorkerID: "1", CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, store.Insert(ctx, entries))

	got, err := store.Lookup(ctx, "task-1", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.BundleID)
	assert.Equal(t, "1", got.WorkerID)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)
}

func TestSQLiteStore_Lookup_NotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Lookup(context.Background(), "missing-task", "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Insert_EmptyBatchIsNoop(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Insert(context.Background(), nil))
}

func TestSQLiteStore_Insert_RejectsDuplicatePrimaryKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entry := Entry{TaskID: "t", FilePath: "f", BundleID: "c1", WorkerID: "1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, store.Insert(ctx, []Entry{entry}))

	err := store.Insert(ctx, []Entry{entry})
	assert.Error(t, err, "task_id/file_path must stay unique across containers")
}

func TestSQLiteStore_GetWorker_NotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetWorker(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpsertWorker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertWorker(ctx, Worker{ID: 7, Address: "https://blob.example/worker/7", Seed: "seed-a"}))
	require.NoError(t, store.UpsertWorker(ctx, Worker{ID: 7, Address: "https://blob.example/worker/7", Seed: "seed-b"}))

	got, err := store.GetWorker(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "seed-b", got.Seed)
}
