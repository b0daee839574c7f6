package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/infrastructure/objectstore"
	"github.com/sheetlens/backend/internal/infrastructure/warehouse"
	"github.com/sheetlens/backend/internal/observability"
)

// IngestServiceConfig holds configuration for the ingest service
type IngestServiceConfig struct {
	// RequestTimeout bounds a whole upload, including model and lookup calls
	RequestTimeout time.Duration
	// LockTTL bounds how long a crashed run can hold a product's lock
	LockTTL time.Duration
}

// IngestRequest is one uploaded document
type IngestRequest struct {
	Filename string
	Data     []byte
}

// IngestResult is the outcome of a successful upload
type IngestResult struct {
	Record *domain.FinalRecord
	// ImageURLs lists every stored image in discovery order. Only the first
	// one is staged and appears in Record.
	ImageURLs []string
}

// IngestService runs the upload pipeline: extract, store images, stage,
// structure, enrich
type IngestService struct {
	extractor domain.DocumentExtractor
	store     domain.ObjectStore
	warehouse domain.Warehouse
	lock      domain.PipelineLock
	config    IngestServiceConfig
	logger    zerolog.Logger
	newID     func() string
}

// NewIngestService creates a new ingest service with dependencies
func NewIngestService(
	extractor domain.DocumentExtractor,
	store domain.ObjectStore,
	wh domain.Warehouse,
	lock domain.PipelineLock,
	config IngestServiceConfig,
	logger zerolog.Logger,
) *IngestService {
	if config.LockTTL == 0 {
		config.LockTTL = 15 * time.Minute
	}

	return &IngestService{
		extractor: extractor,
		store:     store,
		warehouse: wh,
		lock:      lock,
		config:    config,
		logger:    observability.Component(logger, "ingest"),
		newID:     domain.NewProductID,
	}
}

// ValidateUpload checks the filename of an upload before anything is written
func ValidateUpload(filename string) error {
	if filename == "" {
		return domain.ErrEmptyFilename
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return domain.ErrInvalidFileType
	}
	return nil
}

// Ingest processes one uploaded document end to end.
// Flow: validate -> extract -> store images -> stage -> structure -> enrich
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := ValidateUpload(req.Filename); err != nil {
		return nil, err
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	productID := s.newID()
	logger := s.logger.With().Str("product_id", productID).Str("filename", req.Filename).Logger()
	start := time.Now()

	doc, err := s.extractor.Extract(ctx, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract document: %w", err)
	}

	imageURLs := make([]string, 0, len(doc.Images))
	for _, img := range doc.Images {
		name := objectstore.ImageObjectName(productID, img.Page, img.Index, img.Ext)
		url, err := s.store.Put(ctx, name, img.ContentType, img.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to store image %s: %w", name, err)
		}
		imageURLs = append(imageURLs, url)
	}

	staging := domain.StagingRecord{ProductID: productID, RawText: doc.Text}
	if len(imageURLs) > 0 {
		staging.ImageURL1 = imageURLs[0]
	}
	if len(imageURLs) > 1 {
		logger.Info().Int("images", len(imageURLs)).Msg("only the first image is staged")
	}

	if err := s.warehouse.AppendStaging(ctx, staging); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	logger.Info().
		Int("pages", doc.Pages).
		Int("chars", len(doc.Text)).
		Int("images", len(imageURLs)).
		Msg("document staged")

	record, err := s.process(ctx, productID)
	if err != nil {
		return nil, err
	}

	logger.Info().Dur("duration", time.Since(start)).Str("ean_upc", record.EANUPC).Msg("document processed")
	return &IngestResult{Record: record, ImageURLs: imageURLs}, nil
}

// Process runs structuring and enrichment for a staged product.
// Runs for the same product never overlap; intermediate state is always discarded.
// The request deadline applies to the lock wait as well.
func (s *IngestService) Process(ctx context.Context, productID string) (*domain.FinalRecord, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	return s.process(ctx, productID)
}

// withDeadline bounds ctx by the configured request timeout
func (s *IngestService) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *IngestService) process(ctx context.Context, productID string) (*domain.FinalRecord, error) {
	if err := warehouse.ValidateProductID(productID); err != nil {
		return nil, err
	}

	release, err := s.lock.Acquire(ctx, productID, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	defer release()

	defer func() {
		// Discard must run even when ctx has expired
		discardCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := s.warehouse.Discard(discardCtx, productID); err != nil {
			s.logger.Warn().Err(err).Str("product_id", productID).Msg("failed to discard intermediate state")
		}
	}()

	if err := s.warehouse.Structure(ctx, productID); err != nil {
		return nil, fmt.Errorf("structuring failed: %w", err)
	}

	record, err := s.warehouse.Enrich(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNoStructuredData) {
			s.logger.Warn().Str("product_id", productID).Msg("model returned no data")
			return nil, err
		}
		return nil, fmt.Errorf("enrichment failed: %w", err)
	}
	return record, nil
}
