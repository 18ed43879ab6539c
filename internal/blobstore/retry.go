package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// RetryConfig controls Retrying's exponential backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig mirrors the teacher's sensible defaults for
// retrying S3-backed operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// Retrying wraps a Store with exponential backoff and jitter on
// retryable transport errors. PutContainer's body must be re-readable
// across attempts, so Retrying buffers it into memory once; callers
// uploading containers too large to buffer should not wrap them in
// Retrying and should instead rely on the pipeline's own nack/requeue.
type Retrying struct {
	store  Store
	config RetryConfig
}

// NewRetrying wraps store with cfg's retry behavior.
func NewRetrying(store Store, cfg RetryConfig) *Retrying {
	return &Retrying{store: store, config: cfg}
}

// PutContainer implements Store.
func (r *Retrying) PutContainer(ctx context.Context, containerID string, body io.Reader, size int64) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("blobstore: buffer container for retry: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.calculateDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attempts++
		err := r.store.PutContainer(ctx, containerID, bytes.NewReader(buf), size)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return fmt.Errorf("blobstore: put container failed after %d attempts: %w", attempts, lastErr)
}

// GetContainer implements Store.
func (r *Retrying) GetContainer(ctx context.Context, containerID string) (io.ReadCloser, int64, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.calculateDelay(attempt)):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
		attempts++
		body, size, err := r.store.GetContainer(ctx, containerID)
		if err == nil {
			return body, size, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return nil, 0, fmt.Errorf("blobstore: get container failed after %d attempts: %w", attempts, lastErr)
}

// GetProofs implements Store.
func (r *Retrying) GetProofs(ctx context.Context, containerID string) ([]Proof, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.calculateDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		attempts++
		proofs, err := r.store.GetProofs(ctx, containerID)
		if err == nil {
			return proofs, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return nil, fmt.Errorf("blobstore: get proofs failed after %d attempts: %w", attempts, lastErr)
}

// calculateDelay implements exponential backoff with +/-25% jitter.
func (r *Retrying) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	jitter := delay * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1)
	return time.Duration(delay + jitter)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	patterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"server error",
		"throttling",
		"SlowDown",
		"RequestTimeout",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
