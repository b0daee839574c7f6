package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/config"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockIngester is a mock implementation of Ingester
type mockIngester struct {
	requests  []usecase.IngestRequest
	processed []string
	err       error
}

func (m *mockIngester) Ingest(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	image := "https://storage.example.com/p-1_page1_img0.png"
	return &usecase.IngestResult{
		Record: &domain.FinalRecord{
			ProductID:    "p-1",
			ProductTitle: "Cordless Drill",
			ImageURL1:    &image,
			EANUPC:       "4006381333931",
		},
		ImageURLs: []string{image},
	}, nil
}

func (m *mockIngester) Process(ctx context.Context, productID string) (*domain.FinalRecord, error) {
	m.processed = append(m.processed, productID)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.FinalRecord{ProductID: productID, EANUPC: domain.EANNotFound}, nil
}

// mockLookup echoes titles back as replies
type mockLookup struct {
	requests []domain.LookupRequest
}

func (m *mockLookup) HandleRemoteCalls(ctx context.Context, req domain.LookupRequest) domain.LookupResponse {
	m.requests = append(m.requests, req)
	replies := make([]string, 0, len(req.Calls))
	for _, title := range req.Titles() {
		replies = append(replies, "ean:"+title)
	}
	return domain.LookupResponse{Replies: replies}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:*"},
		},
		Storage: config.StorageConfig{Type: "gcs"},
	}
}

func setupTestRouter(ingest Ingester, lookup RemoteCallHandler, maxUpload int64) *gin.Engine {
	handler := NewHandler(ingest, lookup, HandlerConfig{MaxUploadBytes: maxUpload}, zerolog.Nop())
	return SetupRouter(testConfig(), handler, zerolog.Nop())
}

// multipartBody builds an upload body. An empty field name sends no parts.
func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, writer.WriteField("note", "no file here"))
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}

func TestHealthCheckEndpoint(t *testing.T) {
	router := setupTestRouter(&mockIngester{}, &mockLookup{}, 0)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeBody(t, w)
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "sheetlens-backend", response["service"])

	for _, method := range []string{"POST", "PUT", "DELETE"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, "/health", nil))
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
}

func TestIndexAndStatic(t *testing.T) {
	router := setupTestRouter(&mockIngester{}, &mockLookup{}, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Product Sheet Upload")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/process-pdf")
}

func TestLocalImagesRoute(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/p-1_page1_img0.png", []byte("png-bytes"), 0o644))

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Type: "local", LocalDir: dir}
	handler := NewHandler(&mockIngester{}, &mockLookup{}, HandlerConfig{}, zerolog.Nop())
	router := SetupRouter(cfg, handler, zerolog.Nop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/images/p-1_page1_img0.png", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
}

func TestProcessPDF(t *testing.T) {
	t.Run("returns final record", func(t *testing.T) {
		ingest := &mockIngester{}
		router := setupTestRouter(ingest, nil, 0)

		body, contentType := multipartBody(t, "file", "drill.pdf", []byte("%PDF-1.4"))
		req := httptest.NewRequest("POST", "/process-pdf", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		response := decodeBody(t, w)
		assert.Equal(t, "p-1", response["product_id"])
		assert.Equal(t, "4006381333931", response["ean_upc"])
		assert.Equal(t, "https://storage.example.com/p-1_page1_img0.png", response["image_url_1"])

		require.Len(t, ingest.requests, 1)
		assert.Equal(t, "drill.pdf", ingest.requests[0].Filename)
		assert.Equal(t, []byte("%PDF-1.4"), ingest.requests[0].Data)
	})

	t.Run("api route behaves the same", func(t *testing.T) {
		ingest := &mockIngester{}
		router := setupTestRouter(ingest, nil, 0)

		body, contentType := multipartBody(t, "file", "DRILL.PDF", []byte("%PDF"))
		req := httptest.NewRequest("POST", "/api/v1/products", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, ingest.requests, 1)
	})

	tests := []struct {
		name       string
		field      string
		filename   string
		wantStatus int
		wantError  string
	}{
		{"missing file part", "", "", http.StatusBadRequest, "No file part in the request"},
		{"wrong field name", "document", "drill.pdf", http.StatusBadRequest, "No file part in the request"},
		{"empty filename", "file", "", http.StatusBadRequest, "No file selected"},
		{"wrong extension", "file", "drill.docx", http.StatusBadRequest, "Invalid file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingest := &mockIngester{}
			router := setupTestRouter(ingest, nil, 0)

			body, contentType := multipartBody(t, tt.field, tt.filename, []byte("data"))
			req := httptest.NewRequest("POST", "/process-pdf", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, w)["error"])
			assert.Empty(t, ingest.requests, "nothing reaches the pipeline")
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		router := setupTestRouter(&mockIngester{}, nil, 0)

		req := httptest.NewRequest("POST", "/process-pdf", strings.NewReader(`{"file":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No file part in the request", decodeBody(t, w)["error"])
	})

	t.Run("oversize upload", func(t *testing.T) {
		ingest := &mockIngester{}
		router := setupTestRouter(ingest, nil, 1024)

		body, contentType := multipartBody(t, "file", "big.pdf", bytes.Repeat([]byte("x"), 4096))
		req := httptest.NewRequest("POST", "/process-pdf", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "File too large", decodeBody(t, w)["error"])
		assert.Empty(t, ingest.requests)
	})
}

func TestProcessPDF_PipelineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "no structured data",
			err:        domain.ErrNoStructuredData,
			wantStatus: http.StatusInternalServerError,
			wantError:  noStructuredDataMessage,
		},
		{
			name:       "wrapped no structured data",
			err:        fmt.Errorf("enrichment: %w", domain.ErrNoStructuredData),
			wantStatus: http.StatusInternalServerError,
			wantError:  noStructuredDataMessage,
		},
		{
			name:       "other errors echo the message",
			err:        errors.New("failed to store image: bucket not found"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to store image: bucket not found",
		},
		{
			name:       "unreadable document",
			err:        fmt.Errorf("failed to extract document: %w", domain.ErrDocumentUnreadable),
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to extract document: document could not be parsed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(&mockIngester{err: tt.err}, nil, 0)

			body, contentType := multipartBody(t, "file", "drill.pdf", []byte("%PDF"))
			req := httptest.NewRequest("POST", "/process-pdf", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, w)["error"])
		})
	}
}

func TestReprocess(t *testing.T) {
	t.Run("runs the pipeline for the id", func(t *testing.T) {
		ingest := &mockIngester{}
		router := setupTestRouter(ingest, nil, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/products/abc-123/reprocess", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"abc-123"}, ingest.processed)
		assert.Equal(t, "abc-123", decodeBody(t, w)["product_id"])
	})

	t.Run("invalid id is a client error", func(t *testing.T) {
		router := setupTestRouter(&mockIngester{err: fmt.Errorf("%w: product id", domain.ErrInvalidIdentifier)}, nil, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/products/bad_id/reprocess", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFindEAN(t *testing.T) {
	t.Run("answers every call in order", func(t *testing.T) {
		lookup := &mockLookup{}
		router := setupTestRouter(nil, lookup, 0)

		req := httptest.NewRequest("POST", "/find-ean", strings.NewReader(`{"calls":[["Drill"],["Saw"]]}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var response domain.LookupResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, []string{"ean:Drill", "ean:Saw"}, response.Replies)
	})

	t.Run("malformed body", func(t *testing.T) {
		lookup := &mockLookup{}
		router := setupTestRouter(nil, lookup, 0)

		req := httptest.NewRequest("POST", "/find-ean", strings.NewReader(`{"calls":`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeBody(t, w)["errorMessage"], "invalid request body")
		assert.Empty(t, lookup.requests)
	})

	t.Run("lookup router serves the root path", func(t *testing.T) {
		lookup := &mockLookup{}
		handler := NewHandler(nil, lookup, HandlerConfig{}, zerolog.Nop())
		router := SetupLookupRouter(testConfig(), handler, zerolog.Nop())

		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"calls":[["Lamp"]]}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ean:Lamp")

		// The lookup server has no upload routes
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/process-pdf", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnconfiguredServices(t *testing.T) {
	router := setupTestRouter(nil, nil, 0)

	body, contentType := multipartBody(t, "file", "drill.pdf", []byte("%PDF"))
	req := httptest.NewRequest("POST", "/process-pdf", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/find-ean", strings.NewReader(`{"calls":[]}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSIntegration(t *testing.T) {
	router := setupTestRouter(&mockIngester{}, &mockLookup{}, 0)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest("OPTIONS", "/process-pdf", nil)
	req.Header.Set("Origin", "http://evil.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PerIP = 2
	handler := NewHandler(&mockIngester{}, &mockLookup{}, HandlerConfig{}, zerolog.Nop())
	router := SetupRouter(cfg, handler, zerolog.Nop())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		body, contentType := multipartBody(t, "file", "drill.pdf", []byte("%PDF"))
		req := httptest.NewRequest("POST", "/process-pdf", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health is not rate limited
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
