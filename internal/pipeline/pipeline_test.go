package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/catalog"
	"github.com/cafpack/cafpack/internal/queue"
)

type fakeConsumer struct {
	mu      sync.Mutex
	pending []*queue.Message
	acked   []string
	nacked  []string
}

func newFakeConsumer(msgs ...*queue.Message) *fakeConsumer {
	return &fakeConsumer{pending: msgs}
}

func (c *fakeConsumer) enqueue(msg *queue.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, msg)
}

func (c *fakeConsumer) Receive(ctx context.Context) (*queue.Message, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			msg := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return msg, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *fakeConsumer) Ack(ctx context.Context, msg *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *fakeConsumer) Nack(ctx context.Context, msg *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacked = append(c.nacked, msg.ID)
	c.pending = append(c.pending, msg)
	return nil
}

type fakeObjectStore struct {
	content map[string][]byte
}

func (s *fakeObjectStore) OpenStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	data, ok := s.content[key]
	if !ok {
		return nil, 0, errors.New("fakeObjectStore: key not found")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	putErr  error
	puts    []string
}

func (s *fakeBlobStore) PutContainer(ctx context.Context, containerID string, body io.Reader, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	io.Copy(io.Discard, body)
	s.puts = append(s.puts, containerID)
	return nil
}

func (s *fakeBlobStore) GetContainer(ctx context.Context, containerID string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *fakeBlobStore) GetProofs(ctx context.Context, containerID string) ([]blobstore.Proof, error) {
	return nil, errors.New("not implemented")
}

type fakeCatalog struct {
	mu       sync.Mutex
	insertErr error
	inserted []catalog.Entry
}

func (c *fakeCatalog) Insert(ctx context.Context, entries []catalog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insertErr != nil {
		return c.insertErr
	}
	c.inserted = append(c.inserted, entries...)
	return nil
}

func (c *fakeCatalog) Lookup(ctx context.Context, taskID, filePath string) (catalog.Entry, error) {
	return catalog.Entry{}, errors.New("not implemented")
}

func (c *fakeCatalog) GetWorker(ctx context.Context, workerID int64) (catalog.Worker, error) {
	return catalog.Worker{}, errors.New("not implemented")
}

func (c *fakeCatalog) UpsertWorker(ctx context.Context, w catalog.Worker) error {
	return nil
}

func (c *fakeCatalog) Close() error { return nil }

func msg(id, taskID, filePath string) *queue.Message {
	return &queue.Message{
		ID: id,
		Request: queue.UploadRequest{
			TaskID:   taskID,
			FilePath: filePath,
		},
	}
}

func TestRunOneContainer_HappyPath_FinalizesOnInactivity(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
		msg("m2", "t1", "b.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{
		"a.txt": []byte("AAAAA"),
		"b.txt": []byte("BBBBB"),
	}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.InactivityTimeout = 30 * time.Millisecond
	cfg.KeepCAFFiles = false

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.runOneContainer(ctx))

	assert.ElementsMatch(t, []string{"m1", "m2"}, consumer.acked)
	assert.Empty(t, consumer.nacked)
	assert.Len(t, blobs.puts, 1)
	assert.Len(t, cat.inserted, 2)
}

func TestRunOneContainer_FileCountTrigger(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
		msg("m2", "t1", "b.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{
		"a.txt": []byte("AAAAA"),
		"b.txt": []byte("BBBBB"),
	}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.MaxFilesPerContainer = 2
	cfg.InactivityTimeout = time.Minute

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.runOneContainer(ctx))

	assert.ElementsMatch(t, []string{"m1", "m2"}, consumer.acked)
	assert.Len(t, blobs.puts, 1)
}

func TestRunOneContainer_CapacityTrigger_CarriesOverflowToNextContainer(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
		msg("m2", "t1", "b.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 8),
		"b.txt": bytes.Repeat([]byte("B"), 8),
	}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.MaxContainerBytes = 10 // only one 8-byte file fits
	cfg.InactivityTimeout = 30 * time.Millisecond

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.runOneContainer(ctx))

	assert.Contains(t, consumer.acked, "m1")
	assert.NotContains(t, consumer.acked, "m2")
	assert.Contains(t, consumer.nacked, "m2")
	assert.Len(t, blobs.puts, 1)
	assert.Len(t, cat.inserted, 1)

	// m2 is back in the queue; a second container should pick it up.
	require.NoError(t, p.runOneContainer(ctx))
	assert.Contains(t, consumer.acked, "m2")
	assert.Len(t, blobs.puts, 2)
}

func TestRunOneContainer_DropsOversizedFile(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "huge.bin"),
		msg("m2", "t1", "a.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{
		"huge.bin": bytes.Repeat([]byte("X"), 1000),
		"a.txt":    []byte("AAAAA"),
	}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.MaxContainerBytes = 100
	cfg.InactivityTimeout = 30 * time.Millisecond

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.runOneContainer(ctx))

	assert.Contains(t, consumer.acked, "m1", "oversized message is dropped (acked) rather than redelivered forever")
	assert.Contains(t, consumer.acked, "m2")
	assert.Len(t, blobs.puts, 1)
	assert.Len(t, cat.inserted, 1)
}

func TestRunOneContainer_CatalogFailure_NacksEverything(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{"a.txt": []byte("AAAAA")}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{insertErr: errors.New("db is gone")}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.InactivityTimeout = 20 * time.Millisecond

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.runOneContainer(ctx)
	assert.Error(t, err)
	assert.Empty(t, consumer.acked, "must never ack when indexing fails, even though the container was already uploaded")
	assert.Contains(t, consumer.nacked, "m1")
}

func TestRunOneContainer_ShutdownNacksHeldMessagesWithoutShipping(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{"a.txt": []byte("AAAAA")}}
	blobs := &fakeBlobStore{}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.InactivityTimeout = time.Minute

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, p.runOneContainer(ctx))

	assert.Empty(t, consumer.acked, "a message held in an Open container on shutdown must never be acked")
	assert.Contains(t, consumer.nacked, "m1")
	assert.Empty(t, blobs.puts, "a container abandoned on shutdown must never be shipped")
	assert.Empty(t, cat.inserted)
}

func TestRunOneContainer_PutContainerFailure_NacksEverything(t *testing.T) {
	consumer := newFakeConsumer(
		msg("m1", "t1", "a.txt"),
	)
	objects := &fakeObjectStore{content: map[string][]byte{"a.txt": []byte("AAAAA")}}
	blobs := &fakeBlobStore{putErr: errors.New("s3 is down")}
	cat := &fakeCatalog{}

	cfg := DefaultConfig("worker-1")
	cfg.TempDir = t.TempDir()
	cfg.InactivityTimeout = 20 * time.Millisecond

	p := New(cfg, consumer, objects, blobs, cat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.runOneContainer(ctx)
	assert.Error(t, err)
	assert.Empty(t, consumer.acked)
	assert.Contains(t, consumer.nacked, "m1")
	assert.Empty(t, cat.inserted, "must never index a container that failed to upload")
}
