package domain

import (
	"context"
	"time"
)

// DocumentExtractor parses an uploaded document into text and images
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (*ExtractedDocument, error)
}

// ObjectStore persists binary objects and returns their public URL
type ObjectStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Warehouse holds the staging, structured and final product tables
type Warehouse interface {
	// Migrate creates the tables (and remote objects) the pipeline needs
	Migrate(ctx context.Context) error
	// AppendStaging appends one staging row; it never overwrites prior rows
	AppendStaging(ctx context.Context, record StagingRecord) error
	// Structure runs the hosted model for one product and blocks until done.
	// Zero model rows is not an error here; Enrich reports it.
	Structure(ctx context.Context, productID string) error
	// Enrich joins structured fields, the staged image URL and the EAN lookup.
	// Returns ErrNoStructuredData when nothing was structured for the product.
	Enrich(ctx context.Context, productID string) (*FinalRecord, error)
	// Discard drops intermediate state left by Structure for the product
	Discard(ctx context.Context, productID string) error
}

// SearchItem is one result of a web search
type SearchItem struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link,omitempty"`
}

// EANSearcher runs one web search for a product title
type EANSearcher interface {
	Search(ctx context.Context, query string) ([]SearchItem, error)
}

// EANLookup resolves a batch of product titles to EAN lookup replies.
// The reply slice is always aligned with titles.
type EANLookup interface {
	Lookup(ctx context.Context, titles []string) ([]string, error)
}

// StructuringModel converts unstructured product text into the fixed schema
type StructuringModel interface {
	Structure(ctx context.Context, rawText string) (map[string]string, error)
}

// PipelineLock serializes work per key across requests
type PipelineLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
