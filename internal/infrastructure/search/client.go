package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds how much of a search response is read
const maxBodyBytes = 2 << 20

// Options configures the Custom Search client
type Options struct {
	APIKey        string
	EngineID      string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client talks to the Google Custom Search JSON API
type Client struct {
	httpClient  *http.Client
	apiKey      string
	engineID    string
	baseURL     string
	rateLimiter *rate.Limiter
	logger      zerolog.Logger
}

// NewClient creates a new search client
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		apiKey:      opts.APIKey,
		engineID:    opts.EngineID,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      observability.Component(logger, "search"),
	}
}

// searchResponse is the subset of the Custom Search reply we read
type searchResponse struct {
	Items []domain.SearchItem `json:"items"`
}

// Search runs one web search. A reply without items is an empty result, not an error.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchItem, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	params := url.Values{}
	params.Add("q", query)
	params.Add("key", c.apiKey)
	params.Add("cx", c.engineID)
	reqURL := fmt.Sprintf("%s/customsearch/v1?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "SheetLens/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchFailure, err)
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrSearchFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", excerpt(body)).
			Msg("search API returned an error")
		return nil, fmt.Errorf("%w: status %d", domain.ErrSearchFailure, resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrSearchFailure, err)
	}

	c.logger.Debug().Str("query", query).Int("items", len(parsed.Items)).Msg("search completed")
	return parsed.Items, nil
}

func readLimitedBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}

func excerpt(body []byte) string {
	const n = 256
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
