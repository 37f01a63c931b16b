package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/example/scene-collab-engine/internal/types"
)

// HTTPStore talks to the server's checkpoint API. It is the backend used by
// clients that checkpoint through a shared relay deployment instead of local
// project files.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPStore creates a store for the given API base URL, e.g.
// "http://relay.example.com". A nil client falls back to a timeout-bounded
// default.
func NewHTTPStore(base *url.URL, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{base: base, client: client}
}

// Load implements Store.
func (s *HTTPStore) Load(ctx context.Context, scene types.SceneID, project types.ProjectID) (*types.Checkpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(scene, project), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		storeFailures.WithLabelValues("http", "load").Inc()
		return nil, fmt.Errorf("fetch checkpoint: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		storeFailures.WithLabelValues("http", "load").Inc()
		return nil, fmt.Errorf("fetch checkpoint: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint response: %w", err)
	}
	var ckpt types.Checkpoint
	if err := ckpt.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &ckpt, nil
}

// Save implements Store.
func (s *HTTPStore) Save(ctx context.Context, scene types.SceneID, project types.ProjectID, update []byte) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint(scene, project), bytes.NewReader(update))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		storeFailures.WithLabelValues("http", "save").Inc()
		return fmt.Errorf("store checkpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		storeFailures.WithLabelValues("http", "save").Inc()
		return fmt.Errorf("store checkpoint: unexpected status %d", resp.StatusCode)
	}
	storeSaveLatency.WithLabelValues("http").Observe(time.Since(start).Seconds())
	return nil
}

// Has implements Store.
func (s *HTTPStore) Has(ctx context.Context, scene types.SceneID, project types.ProjectID) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint(scene, project), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe checkpoint: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Delete implements Store.
func (s *HTTPStore) Delete(ctx context.Context, scene types.SceneID, project types.ProjectID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint(scene, project), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete checkpoint: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) endpoint(scene types.SceneID, project types.ProjectID) string {
	return s.base.JoinPath("v1", "checkpoints", url.PathEscape(string(project)), url.PathEscape(string(scene))).String()
}
