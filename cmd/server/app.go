package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/config"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/infrastructure/llm"
	"github.com/sheetlens/backend/internal/infrastructure/lock"
	"github.com/sheetlens/backend/internal/infrastructure/objectstore"
	"github.com/sheetlens/backend/internal/infrastructure/pdf"
	"github.com/sheetlens/backend/internal/infrastructure/pdf/ocr"
	"github.com/sheetlens/backend/internal/infrastructure/remotefn"
	"github.com/sheetlens/backend/internal/infrastructure/search"
	"github.com/sheetlens/backend/internal/infrastructure/warehouse"
	"github.com/sheetlens/backend/internal/observability"
	"github.com/sheetlens/backend/internal/usecase"
)

// app holds the wired pipeline and the resources to release on exit
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	warehouse domain.Warehouse
	ingest    *usecase.IngestService
	lookup    *usecase.EANService
	closers   []func() error
}

// loadConfig reads .env and the configuration, then builds the logger
func loadConfig(logOutput *os.File) (*config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, zerolog.Nop(), err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      logOutput,
		ServiceName: "sheetlens",
	})
	return cfg, logger, nil
}

// newLookupService builds the EAN lookup service over the web search client
func newLookupService(cfg *config.Config, logger zerolog.Logger) *usecase.EANService {
	if !cfg.SearchConfigured() {
		logger.Warn().Msg("search API key or engine id missing; every lookup will report a configuration error")
	}

	searchClient := search.NewClient(search.Options{
		APIKey:        cfg.Search.APIKey,
		EngineID:      cfg.Search.EngineID,
		BaseURL:       cfg.Search.BaseURL,
		Timeout:       cfg.Search.Timeout,
		RatePerSecond: cfg.Search.RatePerSecond,
		Burst:         cfg.Search.Burst,
	}, logger)

	return usecase.NewEANService(searchClient, usecase.EANServiceConfig{
		Configured:  cfg.SearchConfigured(),
		Concurrency: cfg.EAN.Concurrency,
	}, logger)
}

// newApp wires every backend the pipeline needs
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.ValidatePipeline(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, lookup: newLookupService(cfg, logger)}

	store, err := a.newStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	wh, err := a.newWarehouse(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.warehouse = wh

	pipelineLock, err := a.newLock(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var recognizer pdf.Recognizer
	if cfg.PDF.OCRFallback {
		recognizer = ocr.NewTesseract(cfg.PDF.OCRLanguages)
	}
	extractor := pdf.NewExtractor(pdf.Options{
		OCRFallback: cfg.PDF.OCRFallback,
		OCRDPI:      cfg.PDF.OCRDPI,
	}, recognizer, logger)

	a.ingest = usecase.NewIngestService(extractor, store, wh, pipelineLock, usecase.IngestServiceConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		LockTTL:        cfg.Lock.TTL,
	}, logger)

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("warehouse", cfg.Warehouse.Type).
		Str("lock", cfg.Lock.Type).
		Bool("ocr_fallback", cfg.PDF.OCRFallback).
		Msg("pipeline configured")

	return a, nil
}

func (a *app) newStore(ctx context.Context) (domain.ObjectStore, error) {
	switch a.cfg.Storage.Type {
	case "gcs":
		store, err := objectstore.NewGCSStore(ctx, objectstore.GCSOptions{
			Bucket:    a.cfg.Storage.Bucket,
			BaseURL:   a.cfg.Storage.PublicBaseURL,
			PublicACL: a.cfg.Storage.PublicACL,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "s3":
		return objectstore.NewS3Store(ctx, objectstore.S3Options{
			Bucket:          a.cfg.Storage.Bucket,
			Region:          a.cfg.Storage.S3Region,
			Endpoint:        a.cfg.Storage.S3Endpoint,
			PathStyle:       a.cfg.Storage.S3PathStyle,
			BaseURL:         a.cfg.Storage.PublicBaseURL,
			AccessKeyID:     a.cfg.Storage.S3AccessKeyID,
			SecretAccessKey: a.cfg.Storage.S3SecretAccessKey,
		}, a.logger)
	default:
		return objectstore.NewLocalStore(a.cfg.Storage.LocalDir, a.cfg.Storage.PublicBaseURL, a.logger)
	}
}

func (a *app) newWarehouse(ctx context.Context) (domain.Warehouse, error) {
	w := a.cfg.Warehouse

	if w.Type == "bigquery" {
		wh, err := warehouse.NewBigQueryWarehouse(ctx, warehouse.BigQueryOptions{
			ProjectID:        w.ProjectID,
			Location:         w.Location,
			Dataset:          w.Dataset,
			StagingTable:     w.StagingTable,
			StructuredPrefix: w.StructuredPrefix,
			Model:            w.Model,
			EANFunction:      w.EANFunction,
			ConnectionID:     w.ConnectionID,
			ModelEndpoint:    w.ModelEndpoint,
			EANEndpointURL:   w.EANEndpointURL,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, wh.Close)
		return wh, nil
	}

	db, driver, err := warehouse.OpenSQL(w.Type, w.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	model := llm.NewClient(llm.Options{
		Endpoint: a.cfg.LLM.Endpoint,
		APIKey:   a.cfg.LLM.APIKey,
		Model:    a.cfg.LLM.Model,
		Timeout:  a.cfg.LLM.Timeout,
	}, a.logger)

	// A deployed lookup function is called over HTTP; otherwise look up in-process
	var ean domain.EANLookup = a.lookup
	if a.cfg.EAN.RemoteURL != "" {
		ean = remotefn.NewClient(a.cfg.EAN.RemoteURL, a.cfg.EAN.Timeout, a.logger)
	}

	return warehouse.NewSQLWarehouse(db, warehouse.SQLOptions{
		Driver:          driver,
		StagingTable:    w.StagingTable,
		StructuredTable: w.StructuredPrefix,
	}, model, ean, a.logger)
}

func (a *app) newLock(ctx context.Context) (domain.PipelineLock, error) {
	if a.cfg.Lock.Type == "redis" {
		l, err := lock.NewRedisLock(ctx, a.cfg.Lock.RedisURL, "", a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, l.Close)
		return l, nil
	}

	l := lock.NewMemoryLock()
	a.closers = append(a.closers, l.Close)
	return l, nil
}

// Close releases resources in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}
