package objectstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/observability"
)

// GCSStore stores objects in a Google Cloud Storage bucket
type GCSStore struct {
	client    *storage.Client
	bucket    string
	baseURL   string
	publicACL bool
	logger    zerolog.Logger
}

// GCSOptions configures a GCSStore
type GCSOptions struct {
	Bucket string
	// BaseURL overrides the https://storage.googleapis.com/<bucket> URL prefix
	BaseURL string
	// PublicACL grants allUsers read access per object. Buckets with uniform
	// bucket-level access reject object ACLs and must be public already.
	PublicACL bool
}

// NewGCSStore creates a store using application default credentials
func NewGCSStore(ctx context.Context, opts GCSOptions, logger zerolog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + opts.Bucket
	}

	return &GCSStore{
		client:    client,
		bucket:    opts.Bucket,
		baseURL:   baseURL,
		publicACL: opts.PublicACL,
		logger:    observability.Component(logger, "objectstore").With().Str("backend", "gcs").Logger(),
	}, nil
}

// Put uploads data and returns the object's public URL
func (s *GCSStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(name)

	err := writeObject(ctx, func(ctx context.Context) io.WriteCloser {
		w := obj.NewWriter(ctx)
		w.ContentType = contentType
		return w
	}, data)
	if err != nil {
		return "", fmt.Errorf("object %s: %w", name, err)
	}

	if s.publicACL {
		if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			return "", fmt.Errorf("failed to make object %s public: %w", name, err)
		}
	}

	s.logger.Debug().Str("object", name).Int("bytes", len(data)).Msg("object stored")
	return joinURL(s.baseURL, name), nil
}

// writeObject writes data through the writer open returns and commits it
// with Close. A failed write cancels the writer's context instead, which
// aborts the upload so no partial object is left behind.
func writeObject(ctx context.Context, open func(context.Context) io.WriteCloser, data []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(ctx)
	if _, err := w.Write(data); err != nil {
		cancel()
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
