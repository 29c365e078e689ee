package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.HTTPPort = port
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client, err := NewClient(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	return client
}

func writeResult(w http.ResponseWriter, result interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result, "status": "ok"})
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""

	_, err := NewClient(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
}

func TestNewClient_NilConfigUsesDefaults(t *testing.T) {
	client, err := NewClient(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333", client.config.GetHTTPURL())
	assert.False(t, client.IsConnected())
}

func TestConnect_UnhealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.HTTPPort = port

	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy status")
	assert.False(t, client.IsConnected())
}

func TestOperationsRequireConnect(t *testing.T) {
	client, err := NewClient(nil, nil)
	require.NoError(t, err)

	ctx := context.Background()

	_, searchErr := client.Search(ctx, "memories", []float32{0.1}, nil)
	assert.ErrorIs(t, searchErr, ErrNotConnected)

	upsertErr := client.UpsertPoints(ctx, "memories", []Point{{ID: "a"}})
	assert.ErrorIs(t, upsertErr, ErrNotConnected)

	_, countErr := client.CountPoints(ctx, "memories", nil)
	assert.ErrorIs(t, countErr, ErrNotConnected)
}

func TestCloseDisconnects(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]interface{}{})
	})

	require.True(t, client.IsConnected())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())

	_, err := client.Search(context.Background(), "memories", []float32{0.1}, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUpsertPoints(t *testing.T) {
	var gotPath, gotWait string
	var gotBody struct {
		Points []Point `json:"points"`
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotWait = r.URL.Query().Get("wait")
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeResult(w, map[string]interface{}{"operation_id": 1, "status": "completed"})
	})

	points := []Point{
		{ID: "11111111-1111-1111-1111-111111111111", Vector: []float32{0.1, 0.2}, Payload: map[string]interface{}{"bot_name": "elena"}},
		{ID: "22222222-2222-2222-2222-222222222222", Vector: []float32{0.3, 0.4}},
	}

	err := client.UpsertPoints(context.Background(), "whisperengine_memory", points)
	require.NoError(t, err)
	assert.Equal(t, "/collections/whisperengine_memory/points", gotPath)
	assert.Equal(t, "true", gotWait)
	require.Len(t, gotBody.Points, 2)
	assert.Equal(t, "elena", gotBody.Points[0].Payload["bot_name"])
}

func TestUpsertPoints_RejectsMissingID(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	err := client.UpsertPoints(context.Background(), "memories", []Point{{Vector: []float32{0.1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestUpsertPoints_EmptyBatchIsNoop(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	require.NoError(t, client.UpsertPoints(context.Background(), "memories", nil))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSearch(t *testing.T) {
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/whisperengine_memory/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeResult(w, []map[string]interface{}{
			{"id": "p1", "score": 0.92, "payload": map[string]interface{}{"content": "tide pools"}},
			{"id": "p2", "score": 0.71},
		})
	})

	filter := NewFilter().MustMatch("bot_name", "elena").MustMatch("user_id", "u1")
	opts := DefaultSearchOptions().WithLimit(60).WithScoreThreshold(0.5).WithFilter(filter)

	hits, err := client.Search(context.Background(), "whisperengine_memory", []float32{0.1, 0.2}, opts)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "p1", hits[0].ID)
	assert.InDelta(t, 0.92, float64(hits[0].Score), 1e-6)
	assert.Equal(t, "tide pools", hits[0].Payload["content"])

	assert.Equal(t, float64(60), gotBody["limit"])
	assert.Equal(t, 0.5, gotBody["score_threshold"])
	must := gotBody["filter"].(map[string]interface{})["must"].([]interface{})
	require.Len(t, must, 2)
	assert.Equal(t, "bot_name", must[0].(map[string]interface{})["key"])
}

func TestSearch_OmitsZeroThresholdAndEmptyFilter(t *testing.T) {
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeResult(w, []map[string]interface{}{})
	})

	_, err := client.Search(context.Background(), "memories", []float32{0.1}, nil)
	require.NoError(t, err)

	_, hasThreshold := gotBody["score_threshold"]
	assert.False(t, hasThreshold)
	_, hasFilter := gotBody["filter"]
	assert.False(t, hasFilter)
}

func TestCollectionExists(t *testing.T) {
	exists := true
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
			return
		}
		writeResult(w, map[string]interface{}{"status": "green"})
	})

	ok, err := client.CollectionExists(context.Background(), "memories")
	require.NoError(t, err)
	assert.True(t, ok)

	exists = false
	ok, err = client.CollectionExists(context.Background(), "memories")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureCollection_CreatesOnlyWhenMissing(t *testing.T) {
	var creates int32
	created := false

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			if created {
				writeResult(w, map[string]interface{}{"status": "green"})
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut:
			atomic.AddInt32(&creates, 1)
			created = true

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			vectors := body["vectors"].(map[string]interface{})
			assert.Equal(t, float64(768), vectors["size"])
			assert.Equal(t, "Cosine", vectors["distance"])

			writeResult(w, true)
		}
	})

	cc := DefaultCollectionConfig("whisperengine_memory", 768)
	require.NoError(t, client.EnsureCollection(context.Background(), cc))
	require.NoError(t, client.EnsureCollection(context.Background(), cc))
	assert.Equal(t, int32(1), atomic.LoadInt32(&creates))
}

func TestDeleteByFilter(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeResult(w, map[string]interface{}{"status": "completed"})
	})

	filter := NewFilter().MustMatch("bot_name", "elena").MustMatch("user_id", "u1")
	err := client.DeleteByFilter(context.Background(), "whisperengine_memory", filter)
	require.NoError(t, err)

	assert.Equal(t, "/collections/whisperengine_memory/points/delete", gotPath)
	assert.Contains(t, gotBody, "filter")
}

func TestDeleteByFilter_RejectsEmptyFilter(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	err := client.DeleteByFilter(context.Background(), "memories", NewFilter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty filter")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCountPoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["exact"])
		writeResult(w, map[string]interface{}{"count": 42})
	})

	count, err := client.CountPoints(context.Background(), "memories", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestScroll_PropagatesOffset(t *testing.T) {
	page := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if page == 0 {
			_, hasOffset := body["offset"]
			assert.False(t, hasOffset)
			page++
			writeResult(w, map[string]interface{}{
				"next_page_offset": "cursor-1",
				"points": []map[string]interface{}{
					{"id": "a", "payload": map[string]interface{}{"content": "one"}},
				},
			})
			return
		}

		assert.Equal(t, "cursor-1", body["offset"])
		writeResult(w, map[string]interface{}{
			"next_page_offset": nil,
			"points": []map[string]interface{}{
				{"id": "b", "payload": map[string]interface{}{"content": "two"}},
			},
		})
	})

	ctx := context.Background()
	points, next, err := client.Scroll(ctx, "memories", &ScrollOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, next)
	assert.Equal(t, "cursor-1", *next)

	points, next, err = client.Scroll(ctx, "memories", &ScrollOptions{Limit: 1, Offset: next})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "b", points[0].ID)
	assert.Nil(t, next)
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeResult(w, map[string]interface{}{"count": 1})
	})

	count, err := client.CountPoints(context.Background(), "memories", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoRequest_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":{"error":"bad vector size"}}`))
	})

	_, err := client.Search(context.Background(), "memories", []float32{0.1}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCollectionStats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]interface{}{
			"status":         "green",
			"points_count":   1234,
			"segments_count": 4,
			"config": map[string]interface{}{
				"params": map[string]interface{}{
					"vectors": map[string]interface{}{"size": 768, "distance": "Cosine"},
				},
			},
		})
	})

	stats, err := client.CollectionStats(context.Background(), "whisperengine_memory")
	require.NoError(t, err)
	assert.Equal(t, "whisperengine_memory", stats.Name)
	assert.Equal(t, "green", stats.Status)
	assert.Equal(t, int64(1234), stats.PointsCount)
	assert.Equal(t, 768, stats.VectorSize)
	assert.Equal(t, DistanceCosine, stats.Distance)
}

func TestCreatePayloadIndex(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/memories/index", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeResult(w, map[string]interface{}{"status": "acknowledged"})
	})

	err := client.CreatePayloadIndex(context.Background(), "memories", "bot_name", PayloadKeyword)
	require.NoError(t, err)
	assert.Equal(t, "bot_name", gotBody["field_name"])
	assert.Equal(t, "keyword", gotBody["field_schema"])
}
