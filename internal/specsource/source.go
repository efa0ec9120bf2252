// Package specsource abstracts where an OpenAPI document comes from so
// the ingestor never depends on the filesystem or net/http directly.
package specsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Source yields the raw bytes of an OpenAPI document. Callers must Close
// the returned ReadCloser.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a spec from a local path.
type FileSource struct {
	Path string
}

func (f FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open spec file: %w", err)
	}
	return file, nil
}

// HTTPSource fetches a spec from a URL using the supplied client.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (h HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build spec request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spec: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch spec: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
