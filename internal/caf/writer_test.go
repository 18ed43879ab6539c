package caf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingReader blocks Read until release is closed, simulating a
// stream that ignores the timeout that abandoned its copy.
type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func cyclingBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 4)
	}
	return b
}

func TestWriter_AppendBufferAndFinalize_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024*1024)
	require.NoError(t, err)

	a := cyclingBytes(100)
	b := cyclingBytes(200)

	ok, err := w.AppendBuffer("T1/a.bin", a)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = w.AppendBuffer("T1/b.bin", b)
	require.NoError(t, err)
	require.True(t, ok)

	path, err := w.Finalize()
	require.NoError(t, err)

	r := NewReader(path)
	require.NoError(t, r.LoadIndex())

	list, err := r.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T1/a.bin", "T1/b.bin"}, list)

	gotA, err := r.Extract("T1/a.bin")
	require.NoError(t, err)
	assert.Equal(t, a, gotA)

	gotB, err := r.Extract("T1/b.bin")
	require.NoError(t, err)
	assert.Equal(t, b, gotB)

	metaB, err := r.Metadata("T1/b.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(100), metaB.StartByte)
	assert.Equal(t, int64(300), metaB.EndByte)
}

func TestWriter_AppendStream_RejectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024*1024)
	require.NoError(t, err)

	stream := bytes.NewReader(cyclingBytes(50))
	ok, err := w.AppendStream(context.Background(), "T1/a.bin", stream, 100)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestWriter_CapacityLaw(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1000)
	require.NoError(t, err)

	ok, err := w.AppendBuffer("a", cyclingBytes(400))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = w.AppendBuffer("b", cyclingBytes(400))
	require.NoError(t, err)
	require.True(t, ok)

	posBefore := w.Size()
	ok, err = w.AppendBuffer("c", cyclingBytes(400))
	require.NoError(t, err)
	assert.False(t, ok, "third 400-byte file must not fit in a 1000-byte budget")
	assert.Equal(t, posBefore, w.Size(), "rejected append must not mutate writer state")

	ok, err = w.AppendBuffer("c-small", cyclingBytes(200))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriter_ExactBudgetSucceeds_PlusOneFails(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(filepath.Join(dir, "exact.caf"), 100)
	require.NoError(t, err)
	ok, err := w1.AppendBuffer("only", cyclingBytes(100))
	require.NoError(t, err)
	assert.True(t, ok)

	w2, err := NewWriter(filepath.Join(dir, "over.caf"), 100)
	require.NoError(t, err)
	ok, err = w2.AppendBuffer("only", cyclingBytes(101))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriter_RejectsEmptyMember(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024)
	require.NoError(t, err)

	_, err = w.AppendBuffer("empty", []byte{})
	assert.ErrorIs(t, err, ErrEmptyMember)
}

func TestWriter_RejectsDuplicateMember(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024)
	require.NoError(t, err)

	_, err = w.AppendBuffer("dup", cyclingBytes(10))
	require.NoError(t, err)

	_, err = w.AppendBuffer("dup", cyclingBytes(10))
	assert.ErrorIs(t, err, ErrDuplicateMember)
}

func TestWriter_UseAfterFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024)
	require.NoError(t, err)
	_, err = w.AppendBuffer("a", cyclingBytes(10))
	require.NoError(t, err)
	_, err = w.Finalize()
	require.NoError(t, err)

	_, err = w.AppendBuffer("b", cyclingBytes(10))
	assert.ErrorIs(t, err, ErrUseAfterFinalize)

	_, err = w.Finalize()
	assert.ErrorIs(t, err, ErrUseAfterFinalize)
}

func TestWriter_Cleanup_RemovesResidualFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.caf")
	w, err := NewWriter(path, 1024)
	require.NoError(t, err)
	_, err = w.AppendBuffer("a", cyclingBytes(10))
	require.NoError(t, err)

	require.NoError(t, w.Cleanup())
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestWriter_Cleanup_WaitsForAbandonedCopyGoroutine(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024*1024)
	require.NoError(t, err)
	w.SetCopyTimeout(5 * time.Millisecond)

	release := make(chan struct{})
	ok, err := w.AppendStream(context.Background(), "t1/a.bin", &blockingReader{release: release}, 5)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCopyTimeout)

	// The copy goroutine is still blocked in Read. Cleanup must wait for
	// it rather than touching buf/file out from under it.
	done := make(chan error, 1)
	go func() { done <- w.Cleanup() }()

	select {
	case <-done:
		t.Fatal("Cleanup returned before the abandoned copy goroutine stopped")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
}

func TestWriter_RandomAccess_IndependentOfOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "c.caf"), 1024*1024)
	require.NoError(t, err)

	members := map[string][]byte{
		"x": cyclingBytes(37),
		"y": cyclingBytes(91),
		"z": cyclingBytes(13),
	}
	for _, name := range []string{"z", "x", "y"} {
		ok, err := w.AppendBuffer(name, members[name])
		require.NoError(t, err)
		require.True(t, ok)
	}
	path, err := w.Finalize()
	require.NoError(t, err)

	r := NewReader(path)
	require.NoError(t, r.LoadIndex())

	// Extract in a different order than insertion, and extract "y" twice.
	gotY1, err := r.Extract("y")
	require.NoError(t, err)
	gotZ, err := r.Extract("z")
	require.NoError(t, err)
	gotY2, err := r.Extract("y")
	require.NoError(t, err)
	gotX, err := r.Extract("x")
	require.NoError(t, err)

	assert.Equal(t, members["y"], gotY1)
	assert.Equal(t, members["y"], gotY2)
	assert.Equal(t, members["z"], gotZ)
	assert.Equal(t, members["x"], gotX)
}
