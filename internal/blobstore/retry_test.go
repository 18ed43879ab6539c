package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	putCalls  int
	failTimes int
	failErr   error
}

func (f *fakeStore) PutContainer(ctx context.Context, containerID string, body io.Reader, size int64) error {
	f.putCalls++
	if f.putCalls <= f.failTimes {
		return f.failErr
	}
	_, err := io.ReadAll(body)
	return err
}

func (f *fakeStore) GetContainer(ctx context.Context, containerID string) (io.ReadCloser, int64, error) {
	return nil, 0, nil
}

func (f *fakeStore) GetProofs(ctx context.Context, containerID string) ([]Proof, error) {
	return nil, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetrying_PutContainer_SucceedsAfterTransientFailures(t *testing.T) {
	fake := &fakeStore{failTimes: 2, failErr: errors.New("connection reset by peer")}
	r := NewRetrying(fake, fastRetryConfig())

	err := r.PutContainer(context.Background(), "c1", bytes.NewReader([]byte("payload")), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.putCalls)
}

func TestRetrying_PutContainer_GivesUpOnNonRetryableError(t *testing.T) {
	fake := &fakeStore{failTimes: 99, failErr: errors.New("access denied")}
	r := NewRetrying(fake, fastRetryConfig())

	err := r.PutContainer(context.Background(), "c1", bytes.NewReader([]byte("payload")), 7)
	assert.Error(t, err)
	assert.Equal(t, 1, fake.putCalls, "non-retryable error must not be retried")
}

func TestRetrying_PutContainer_StopsAtMaxAttempts(t *testing.T) {
	fake := &fakeStore{failTimes: 99, failErr: errors.New("service unavailable")}
	r := NewRetrying(fake, fastRetryConfig())

	err := r.PutContainer(context.Background(), "c1", bytes.NewReader([]byte("payload")), 7)
	assert.Error(t, err)
	assert.Equal(t, 3, fake.putCalls)
}
