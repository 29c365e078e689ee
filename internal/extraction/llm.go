package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Config holds settings for the LLM-backed implementations. The endpoint
// is expected to speak the OpenAI chat-completions wire format. An empty
// BaseURL selects the rule-based implementations instead.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig leaves the endpoint unset, so extraction runs on rules
// until a model is configured.
func DefaultConfig() Config {
	return Config{
		Model:      "gpt-4o-mini",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Validate checks the fields the HTTP implementations require.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// llmClient is the shared chat-completions transport.
type llmClient struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
}

func newLLMClient(config Config, logger *logrus.Logger) (*llmClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &llmClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends one system+user exchange and returns the raw assistant
// text, retrying transient failures with exponential backoff.
func (c *llmClient) complete(ctx context.Context, system, user string) (string, error) {
	operation := func() (string, error) {
		return c.completeOnce(ctx, system, user)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryDelay

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.config.MaxRetries)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to complete prompt: %w", err)
	}
	return content, nil
}

func (c *llmClient) completeOnce(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Debug("Completion request failed, will retry")
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("completion endpoint returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		// Client errors other than rate limiting will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode completion response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("completion endpoint returned no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractSystemPrompt pins the output contract for the fact extractor.
const extractSystemPrompt = `You extract durable personal facts from chat messages. ` +
	`Respond with a JSON array of objects with fields "predicate", "object" and "confidence" (0.0-1.0). ` +
	`Predicates are uppercase verb phrases such as LIVES_IN, WORKS_AT, LIKES, HATES, HAS_NAME. ` +
	`Only include facts the speaker states about themselves. Respond with [] when there are none. No prose.`

// HTTPExtractor asks a chat model for structured facts.
type HTTPExtractor struct {
	client *llmClient
}

// NewHTTPExtractor builds an extractor from config. A nil logger falls
// back to a default logrus logger.
func NewHTTPExtractor(config Config, logger *logrus.Logger) (*HTTPExtractor, error) {
	client, err := newLLMClient(config, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPExtractor{client: client}, nil
}

// Extract returns sanitized triples from the model's answer. Empty input
// short-circuits without a network call.
func (e *HTTPExtractor) Extract(ctx context.Context, text string) ([]Fact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	content, err := e.client.complete(ctx, extractSystemPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("failed to extract facts: %w", err)
	}
	return parseFacts(content)
}

// parseFacts decodes the model answer, tolerating markdown fences and
// prose around the JSON array.
func parseFacts(content string) ([]Fact, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in extractor response: %s", truncate(content, 100))
	}

	var facts []Fact
	if err := json.Unmarshal([]byte(content[start:end+1]), &facts); err != nil {
		return nil, fmt.Errorf("failed to decode extractor response: %w", err)
	}
	return Sanitize(facts), nil
}

// translateSystemPrompt pins the output contract for the translator. The
// model sees the graph shape, never store credentials.
const translateSystemPrompt = `You translate questions about a user into a single read-only Cypher query ` +
	`over the pattern (s:User {id: $subject})-[r:FACT]->(e:Entity), where r has a "predicate" property ` +
	`and e has a "name" property. Always filter on $subject. Return only the query text. ` +
	`If the question cannot be answered from those facts, return exactly NO_ANSWER.`

// HTTPTranslator asks a chat model for a gated query string.
type HTTPTranslator struct {
	client *llmClient
}

// NewHTTPTranslator builds a translator from config. A nil logger falls
// back to a default logrus logger.
func NewHTTPTranslator(config Config, logger *logrus.Logger) (*HTTPTranslator, error) {
	client, err := newLLMClient(config, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPTranslator{client: client}, nil
}

// Translate returns the model's query, or NoAnswer when it declines.
// The caller must gate the result before executing it.
func (t *HTTPTranslator) Translate(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return NoAnswer, nil
	}

	content, err := t.client.complete(ctx, translateSystemPrompt, question)
	if err != nil {
		return NoAnswer, fmt.Errorf("failed to translate question: %w", err)
	}
	return cleanQuery(content), nil
}

// cleanQuery strips the fences and whitespace models wrap around a
// statement. Cypher is whitespace-insensitive, so collapsing the result
// to one line is safe and keeps logs readable.
func cleanQuery(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```cypher")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.Join(strings.Fields(content), " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var (
	_ Extractor  = (*HTTPExtractor)(nil)
	_ Translator = (*HTTPTranslator)(nil)
)
