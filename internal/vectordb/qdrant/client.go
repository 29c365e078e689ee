package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when an operation runs before Connect.
var ErrNotConnected = errors.New("not connected to qdrant")

// APIError is a non-2xx response from the Qdrant REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant api status %d: %s", e.StatusCode, e.Body)
}

// PayloadSchema is the index type for a payload field.
type PayloadSchema string

const (
	PayloadKeyword  PayloadSchema = "keyword"
	PayloadInteger  PayloadSchema = "integer"
	PayloadFloat    PayloadSchema = "float"
	PayloadBool     PayloadSchema = "bool"
	PayloadDatetime PayloadSchema = "datetime"
)

// Point is a stored vector with its payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is a search hit with its similarity score.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Vector  []float32              `json:"vector,omitempty"`
}

// CollectionStats summarizes a collection's state.
type CollectionStats struct {
	Name          string
	Status        string
	PointsCount   int64
	SegmentsCount int
	VectorSize    int
	Distance      Distance
}

// ScrollOptions controls paging through points.
type ScrollOptions struct {
	Limit       int
	Offset      *string
	Filter      *Filter
	WithVectors bool
}

// Client talks to the Qdrant REST API. Writes use wait=true so a
// returned upsert or delete is immediately visible to reads.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
	mu         sync.RWMutex
	connected  bool
}

// NewClient creates a Qdrant client from config. A nil config gets
// defaults, a nil logger gets a fresh logrus logger.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Connect verifies connectivity and marks the client usable.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.healthCheck(ctx); err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	c.connected = true
	c.logger.WithField("url", c.config.GetHTTPURL()).Info("Connected to Qdrant")
	return nil
}

// Close marks the client unusable. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck probes the server without retries.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.healthCheck(ctx)
}

// The root endpoint works across Qdrant versions; /health was removed in 1.16.
func (c *Client) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.GetHTTPURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) guard() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// doRequest sends one API call, retrying transport errors, 429s and 5xx
// responses with exponential backoff. Other 4xx responses fail immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := c.config.GetHTTPURL() + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	attempt := func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("api-key", c.config.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}

		return respBody, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryDelay

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.config.MaxRetries)+1))
}

// EnsureCollection creates the collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, config *CollectionConfig) error {
	if err := c.guard(); err != nil {
		return err
	}

	exists, err := c.CollectionExists(ctx, config.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.CreateCollection(ctx, config)
}

// CreateCollection creates a new vector collection.
func (c *Client) CreateCollection(ctx context.Context, config *CollectionConfig) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid collection config: %w", err)
	}

	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     config.VectorSize,
			"distance": string(config.Distance),
		},
	}
	if config.OnDiskPayload {
		reqBody["on_disk_payload"] = true
	}
	if config.IndexingThreshold > 0 {
		reqBody["optimizers_config"] = map[string]interface{}{
			"indexing_threshold": config.IndexingThreshold,
		}
	}
	if config.ShardNumber > 1 {
		reqBody["shard_number"] = config.ShardNumber
	}
	if config.ReplicationFactor > 1 {
		reqBody["replication_factor"] = config.ReplicationFactor
	}

	if _, err := c.doRequest(ctx, http.MethodPut, "/collections/"+config.Name, reqBody); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"collection":  config.Name,
		"vector_size": config.VectorSize,
	}).Info("Collection created")
	return nil
}

// DeleteCollection removes a collection and all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	if err := c.guard(); err != nil {
		return err
	}

	if _, err := c.doRequest(ctx, http.MethodDelete, "/collections/"+name, nil); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	c.logger.WithField("collection", name).Info("Collection deleted")
	return nil
}

// CollectionExists checks whether a collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := c.guard(); err != nil {
		return false, err
	}

	_, err := c.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return true, nil
}

// CollectionStats returns status and size information for a collection.
func (c *Client) CollectionStats(ctx context.Context, name string) (*CollectionStats, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	var response struct {
		Result struct {
			Status        string `json:"status"`
			PointsCount   int64  `json:"points_count"`
			SegmentsCount int    `json:"segments_count"`
			Config        struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &CollectionStats{
		Name:          name,
		Status:        response.Result.Status,
		PointsCount:   response.Result.PointsCount,
		SegmentsCount: response.Result.SegmentsCount,
		VectorSize:    response.Result.Config.Params.Vectors.Size,
		Distance:      Distance(response.Result.Config.Params.Vectors.Distance),
	}, nil
}

// CreatePayloadIndex indexes a payload field for filtering.
func (c *Client) CreatePayloadIndex(ctx context.Context, collection, field string, schema PayloadSchema) error {
	if err := c.guard(); err != nil {
		return err
	}

	reqBody := map[string]interface{}{
		"field_name":   field,
		"field_schema": string(schema),
	}

	path := fmt.Sprintf("/collections/%s/index?wait=true", collection)
	if _, err := c.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to create payload index: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": collection,
		"field":      field,
	}).Debug("Payload index created")
	return nil
}

// UpsertPoints inserts or replaces points. Every point must carry an ID;
// callers assign deterministic IDs so retried writes stay idempotent.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if err := c.guard(); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	for i := range points {
		if points[i].ID == "" {
			return fmt.Errorf("point %d has no id", i)
		}
	}

	reqBody := map[string]interface{}{"points": points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	if _, err := c.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": collection,
		"count":      len(points),
	}).Debug("Points upserted")
	return nil
}

// RetrievePoints fetches points by ID. Missing IDs are silently absent
// from the result.
func (c *Client) RetrievePoints(ctx context.Context, collection string, ids []string, withVectors bool) ([]Point, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  withVectors,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve points: %w", err)
	}

	var response struct {
		Result []Point `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return response.Result, nil
}

// Search runs a similarity search over the collection.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, opts *SearchOptions) ([]ScoredPoint, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = DefaultSearchOptions()
	}

	reqBody := map[string]interface{}{
		"vector":       vector,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
		"with_payload": opts.WithPayload,
		"with_vector":  opts.WithVectors,
	}
	if opts.ScoreThreshold > 0 {
		reqBody["score_threshold"] = opts.ScoreThreshold
	}
	if !opts.Filter.IsEmpty() {
		reqBody["filter"] = opts.Filter
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/search", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var response struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return response.Result, nil
}

// Scroll pages through points matching a filter. The returned offset is
// nil when no points remain.
func (c *Client) Scroll(ctx context.Context, collection string, opts *ScrollOptions) ([]Point, *string, error) {
	if err := c.guard(); err != nil {
		return nil, nil, err
	}
	if opts == nil {
		opts = &ScrollOptions{Limit: c.config.DefaultLimit}
	}
	if opts.Limit <= 0 {
		opts.Limit = c.config.DefaultLimit
	}

	reqBody := map[string]interface{}{
		"limit":        opts.Limit,
		"with_payload": true,
		"with_vector":  opts.WithVectors,
	}
	if opts.Offset != nil {
		reqBody["offset"] = *opts.Offset
	}
	if !opts.Filter.IsEmpty() {
		reqBody["filter"] = opts.Filter
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	var response struct {
		Result struct {
			NextPageOffset *string `json:"next_page_offset"`
			Points         []Point `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return response.Result.Points, response.Result.NextPageOffset, nil
}

// DeletePoints deletes points by ID.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	reqBody := map[string]interface{}{"points": ids}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	if _, err := c.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": collection,
		"count":      len(ids),
	}).Debug("Points deleted")
	return nil
}

// DeleteByFilter deletes every point matching the filter. An empty
// filter is rejected rather than wiping the collection.
func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	if err := c.guard(); err != nil {
		return err
	}
	if filter.IsEmpty() {
		return fmt.Errorf("refusing to delete with empty filter")
	}

	reqBody := map[string]interface{}{"filter": filter}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	if _, err := c.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}

	c.logger.WithField("collection", collection).Debug("Points deleted by filter")
	return nil
}

// CountPoints returns the exact number of points matching the filter.
// A nil filter counts the whole collection.
func (c *Client) CountPoints(ctx context.Context, collection string, filter *Filter) (int64, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}

	reqBody := map[string]interface{}{"exact": true}
	if !filter.IsEmpty() {
		reqBody["filter"] = filter
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/count", reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	var response struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return response.Result.Count, nil
}
