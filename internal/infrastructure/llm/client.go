// Package llm structures raw product text with an OpenAI-compatible chat
// completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
)

const maxBodyBytes = 4 << 20

// Options configures the client
type Options struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client implements domain.StructuringModel
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Message is a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for a JSON object reply
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request is the chat completions request body
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

// Response is the subset of the chat completions reply we read
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice is one completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// NewClient creates a new structuring client
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Client{
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     observability.Component(logger, "llm"),
	}
}

// Structure sends the raw text to the model and returns the validated fields
func (c *Client) Structure(ctx context.Context, rawText string) (map[string]string, error) {
	body, err := json.Marshal(Request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: buildPrompt()},
			{Role: "user", Content: rawText},
		},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, excerpt(respBody))
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in reply", domain.ErrModelOutputInvalid)
	}

	fields, err := ParseFields(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Str("product_title", fields["product_title"]).
		Msg("text structured")
	return fields, nil
}

// ParseFields validates a model reply against the product schema.
// Each field may be absent, null, a string or a number; product_title is required.
func ParseFields(content string) (map[string]string, error) {
	content = stripCodeFence(content)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: reply is not a JSON object", domain.ErrModelOutputInvalid)
	}

	fields := make(map[string]string, len(domain.StructuredFields))
	for _, name := range domain.StructuredFields {
		switch v := raw[name].(type) {
		case nil:
		case string:
			fields[name] = strings.TrimSpace(v)
		case float64:
			fields[name] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("%w: field %s has type %T", domain.ErrModelOutputInvalid, name, v)
		}
	}

	if fields["product_title"] == "" {
		return nil, fmt.Errorf("%w: empty product_title", domain.ErrModelOutputInvalid)
	}
	return fields, nil
}

// stripCodeFence removes a ```json fence some models wrap replies in
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildPrompt() string {
	return `You extract product data from the text of a product sheet.

Reply with ONLY a JSON object with these string fields:
` + strings.Join(domain.StructuredFields, ", ") + `

Rules:
- product_title is the product's name as printed on the sheet
- Use null for any field the text does not mention
- Keep units as written (e.g. "18 V", "120 x 45 mm")
- Do not add any other keys`
}

func excerpt(body []byte) string {
	const n = 256
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
