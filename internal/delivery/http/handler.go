package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
	"github.com/sheetlens/backend/internal/usecase"
	"github.com/sheetlens/backend/web"
)

const noStructuredDataMessage = "Failed to process data in BigQuery. The AI model may have returned no data for this PDF."

// Ingester runs the upload pipeline
type Ingester interface {
	Ingest(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error)
	Process(ctx context.Context, productID string) (*domain.FinalRecord, error)
}

// RemoteCallHandler answers EAN remote function batches
type RemoteCallHandler interface {
	HandleRemoteCalls(ctx context.Context, req domain.LookupRequest) domain.LookupResponse
}

// HandlerConfig holds request limits for the handlers
type HandlerConfig struct {
	MaxUploadBytes int64
	LookupTimeout  time.Duration
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	ingest Ingester
	lookup RemoteCallHandler
	config HandlerConfig
	logger zerolog.Logger
}

// NewHandler creates a new HTTP handler.
// Either service may be nil; its routes then answer 503.
func NewHandler(ingest Ingester, lookup RemoteCallHandler, config HandlerConfig, logger zerolog.Logger) *Handler {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	return &Handler{
		ingest: ingest,
		lookup: lookup,
		config: config,
		logger: observability.Component(logger, "http"),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "sheetlens-backend",
		"version": "1.0.0",
	})
}

// Index serves the upload page
func (h *Handler) Index(c *gin.Context) {
	page, err := web.IndexHTML()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// ProcessPDF handles a multipart upload and returns the final record
func (h *Handler) ProcessPDF(c *gin.Context) {
	if h.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingestion is not configured"})
		return
	}

	req, err := h.readUpload(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result.Record)
}

// Reprocess re-runs structuring and enrichment for a staged product
func (h *Handler) Reprocess(c *gin.Context) {
	if h.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingestion is not configured"})
		return
	}

	record, err := h.ingest.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// FindEAN is the EAN remote function endpoint
func (h *Handler) FindEAN(c *gin.Context) {
	if h.lookup == nil {
		c.JSON(http.StatusServiceUnavailable, domain.LookupErrorResponse{ErrorMessage: "EAN lookup is not configured"})
		return
	}

	var req domain.LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.LookupErrorResponse{ErrorMessage: "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	if h.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.LookupTimeout)
		defer cancel()
	}

	c.JSON(http.StatusOK, h.lookup.HandleRemoteCalls(ctx, req))
}

// readUpload pulls the "file" part out of a size-limited multipart body
func (h *Handler) readUpload(c *gin.Context) (usecase.IngestRequest, error) {
	if c.Request.ContentLength > h.config.MaxUploadBytes {
		return usecase.IngestRequest{}, domain.ErrFileTooLarge
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return usecase.IngestRequest{}, domain.ErrFileTooLarge
		}
		// Browsers send an empty filename when nothing was picked; the
		// multipart reader files that part under form values
		if form := c.Request.MultipartForm; form != nil {
			if _, ok := form.Value["file"]; ok {
				return usecase.IngestRequest{}, domain.ErrEmptyFilename
			}
		}
		return usecase.IngestRequest{}, domain.ErrMissingFile
	}

	if err := usecase.ValidateUpload(header.Filename); err != nil {
		return usecase.IngestRequest{}, err
	}

	f, err := header.Open()
	if err != nil {
		return usecase.IngestRequest{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return usecase.IngestRequest{}, err
	}

	return usecase.IngestRequest{Filename: header.Filename, Data: data}, nil
}

// respondError maps pipeline errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, domain.ErrMissingFile):
		status, message = http.StatusBadRequest, "No file part in the request"
	case errors.Is(err, domain.ErrEmptyFilename):
		status, message = http.StatusBadRequest, "No file selected"
	case errors.Is(err, domain.ErrInvalidFileType):
		status, message = http.StatusBadRequest, "Invalid file type"
	case errors.Is(err, domain.ErrFileTooLarge):
		status, message = http.StatusRequestEntityTooLarge, "File too large"
	case domain.IsClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoStructuredData):
		message = noStructuredDataMessage
	}

	logger := observability.FromContext(c.Request.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", c.FullPath()).Msg("request rejected")
	}

	c.JSON(status, gin.H{"error": message})
}
