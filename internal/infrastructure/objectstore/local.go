package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/observability"
)

// LocalStore writes objects to a directory served by the HTTP server.
// Used for development and single-node deployments.
type LocalStore struct {
	dir     string
	baseURL string
	logger  zerolog.Logger
}

// NewLocalStore creates the directory if needed. baseURL is the URL prefix
// the directory is served under (e.g. "/images").
func NewLocalStore(dir, baseURL string, logger zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/images"
	}
	return &LocalStore{
		dir:     dir,
		baseURL: baseURL,
		logger:  observability.Component(logger, "objectstore").With().Str("backend", "local").Logger(),
	}, nil
}

// Dir returns the directory objects are written to
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes data to <dir>/<name> and returns its URL
func (s *LocalStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", name, err)
	}

	s.logger.Debug().Str("object", name).Int("bytes", len(data)).Msg("object stored")
	return joinURL(s.baseURL, name), nil
}
