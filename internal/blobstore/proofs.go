package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GetProofs implements Store by calling the companion proof service
// over JSON-over-HTTPS with a plain net/http client.
func (s *S3Store) GetProofs(ctx context.Context, containerID string) ([]Proof, error) {
	if s.proofsBase == "" {
		return nil, fmt.Errorf("%w: no proof service configured", ErrProofsUnavailable)
	}

	url := fmt.Sprintf("%s/containers/%s/proofs", s.proofsBase, containerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: build proofs request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProofsUnavailable, resp.StatusCode)
	}

	var proofs []Proof
	if err := json.NewDecoder(resp.Body).Decode(&proofs); err != nil {
		return nil, fmt.Errorf("blobstore: decode proofs response: %w", err)
	}
	return proofs, nil
}
