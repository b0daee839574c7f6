// Package remotefn calls an EAN lookup service over the remote function
// calls/replies protocol.
package remotefn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
)

const maxBodyBytes = 4 << 20

// Client implements domain.EANLookup against a remote lookup endpoint
type Client struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new remote function client
func NewClient(url string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     observability.Component(logger, "remotefn"),
	}
}

// Lookup sends one call per title and returns the aligned replies
func (c *Client) Lookup(ctx context.Context, titles []string) ([]string, error) {
	calls := make([][]any, len(titles))
	for i, t := range titles {
		calls[i] = []any{t}
	}

	body, err := json.Marshal(domain.LookupRequest{Calls: calls})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteFunction, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrRemoteFunction, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp domain.LookupErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: status %d: %s", domain.ErrRemoteFunction, resp.StatusCode, errResp.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: status %d", domain.ErrRemoteFunction, resp.StatusCode)
	}

	var parsed domain.LookupResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %v", domain.ErrRemoteFunction, err)
	}
	if len(parsed.Replies) != len(titles) {
		return nil, fmt.Errorf("%w: sent %d calls, got %d replies", domain.ErrRemoteFunction, len(titles), len(parsed.Replies))
	}

	c.logger.Debug().Int("calls", len(titles)).Msg("remote lookup completed")
	return parsed.Replies, nil
}
