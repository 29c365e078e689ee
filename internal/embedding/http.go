package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Config holds settings for the HTTP embedding provider. The endpoint is
// expected to speak the OpenAI embeddings wire format.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig targets a local OpenAI-compatible endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:11434/v1",
		Model:      "nomic-embed-text",
		Dimension:  768,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be at least 1")
	}
	return nil
}

// HTTPProvider calls a remote embeddings endpoint.
type HTTPProvider struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPProvider builds a provider from config. A nil logger falls back to
// a default logrus logger.
func NewHTTPProvider(config Config, logger *logrus.Logger) (*HTTPProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed embeds texts in one request, retrying transient failures with
// exponential backoff. The response is validated against the configured
// dimension before anything is returned.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	operation := func() ([][]float32, error) {
		return p.embedOnce(ctx, texts)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.config.RetryDelay

	vectors, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.config.MaxRetries)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	return vectors, nil
}

func (p *HTTPProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.WithError(err).Debug("Embedding request failed, will retry")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		// Client errors other than rate limiting will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts)))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != p.config.Dimension {
			return nil, backoff.Permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), p.config.Dimension))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vector")
	}
	return vectors[0], nil
}

// Dimension reports the configured vector size.
func (p *HTTPProvider) Dimension() int {
	return p.config.Dimension
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
