package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/config"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/engine"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

type fakeMemory struct {
	mu sync.Mutex

	remembers   []*engine.RememberRequest
	rememberErr error

	recalls   []*engine.RecallRequest
	recallErr error

	reflects   []*engine.ReflectRequest
	reflectErr error

	forgets   []*engine.ForgetRequest
	forgetRes *engine.ForgetResult
	forgetErr error

	merges   []*knowledge.MergeRequest
	mergeOut *knowledge.MergeOutcome
	mergeErr error

	factSubjects []knowledge.Subject
	lastFilter   string
	facts        []knowledge.Fact
	queryErr     error

	deletes   []*knowledge.DeleteRequest
	deleted   int64
	deleteErr error

	maintains   []bool
	report      *knowledge.PruneReport
	maintainErr error

	graphHealth    *knowledge.GraphHealth
	graphHealthErr error

	asks   []string
	answer *engine.Answer
	askErr error

	stores map[string]string
}

func (f *fakeMemory) BotName() string { return "elena" }

func (f *fakeMemory) Remember(_ context.Context, req *engine.RememberRequest) (*engine.RememberResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rememberErr != nil {
		return nil, f.rememberErr
	}
	f.remembers = append(f.remembers, req)
	return &engine.RememberResult{
		Write:       &memory.WriteResult{FragmentID: "frag-1", Collection: "whisperengine_memory_elena"},
		FactsMerged: 1,
	}, nil
}

func (f *fakeMemory) Recall(_ context.Context, req *engine.RecallRequest) (*engine.MemoryContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recallErr != nil {
		return nil, f.recallErr
	}
	f.recalls = append(f.recalls, req)
	return &engine.MemoryContext{
		OwnerID: req.OwnerID,
		BotName: "elena",
		Query:   req.Query,
		BuiltAt: time.Now().UTC(),
	}, nil
}

func (f *fakeMemory) Reflect(_ context.Context, req *engine.ReflectRequest) (*memory.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reflectErr != nil {
		return nil, f.reflectErr
	}
	f.reflects = append(f.reflects, req)
	return &memory.WriteResult{FragmentID: "sum-1", Collection: "whisperengine_memory_elena"}, nil
}

func (f *fakeMemory) Forget(_ context.Context, req *engine.ForgetRequest) (*engine.ForgetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets = append(f.forgets, req)
	if f.forgetErr != nil {
		return f.forgetRes, f.forgetErr
	}
	if f.forgetRes != nil {
		return f.forgetRes, nil
	}
	return &engine.ForgetResult{FragmentsPurged: 4, MessagesPurged: 9}, nil
}

func (f *fakeMemory) MergeFact(_ context.Context, req *knowledge.MergeRequest) (*knowledge.MergeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.merges = append(f.merges, req)
	if f.mergeOut != nil {
		return f.mergeOut, nil
	}
	return &knowledge.MergeOutcome{Resolution: knowledge.ResolutionCreated, Confidence: req.Confidence, MentionCount: 1}, nil
}

func (f *fakeMemory) QueryFacts(_ context.Context, subject knowledge.Subject, predicateFilter string) ([]knowledge.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.factSubjects = append(f.factSubjects, subject)
	f.lastFilter = predicateFilter
	return f.facts, nil
}

func (f *fakeMemory) DeleteFacts(_ context.Context, req *knowledge.DeleteRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, req)
	return f.deleted, nil
}

func (f *fakeMemory) Maintain(_ context.Context, dryRun bool) (*knowledge.PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maintainErr != nil {
		return nil, f.maintainErr
	}
	f.maintains = append(f.maintains, dryRun)
	if f.report != nil {
		return f.report, nil
	}
	return &knowledge.PruneReport{DryRun: dryRun, OrphansRemoved: 2}, nil
}

func (f *fakeMemory) GraphHealth(context.Context) (*knowledge.GraphHealth, error) {
	if f.graphHealthErr != nil {
		return nil, f.graphHealthErr
	}
	if f.graphHealth != nil {
		return f.graphHealth, nil
	}
	return &knowledge.GraphHealth{Nodes: 120, Relationships: 340}, nil
}

func (f *fakeMemory) Ask(_ context.Context, ownerID, question string) (*engine.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.askErr != nil {
		return nil, f.askErr
	}
	f.asks = append(f.asks, question)
	if f.answer != nil {
		return f.answer, nil
	}
	return &engine.Answer{Asked: true, Query: "MATCH (u:User {id: $subject}) RETURN u"}, nil
}

func (f *fakeMemory) Health(context.Context) map[string]string {
	if f.stores != nil {
		return f.stores
	}
	return map[string]string{"vector": "ok", "graph": "ok", "history": "ok", "cache": "ok"}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		Mode:            gin.TestMode,
		JWTSecret:       "test-secret",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
	}
}

type serverFixture struct {
	mem   *fakeMemory
	srv   *Server
	token string
}

func newServerFixture(t *testing.T, adjust ...func(*fakeMemory)) *serverFixture {
	t.Helper()
	mem := &fakeMemory{}
	for _, fn := range adjust {
		fn(mem)
	}
	srv, err := New(mem, testServerConfig(), nil, nil, testLogger())
	require.NoError(t, err)
	return &serverFixture{
		mem:   mem,
		srv:   srv,
		token: makeToken(t, "test-secret", "test-agent", time.Now().Add(time.Hour)),
	}
}

func (sf *serverFixture) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+sf.token)
	}
	rec := httptest.NewRecorder()
	sf.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (sf *serverFixture) doRaw(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+sf.token)
	}
	rec := httptest.NewRecorder()
	sf.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewValidation(t *testing.T) {
	t.Run("NilMemory", func(t *testing.T) {
		_, err := New(nil, testServerConfig(), nil, nil, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory engine is required")
	})

	t.Run("BadConfig", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.JWTSecret = ""
		_, err := New(&fakeMemory{}, cfg, nil, nil, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server config")
	})
}

func TestLiveness(t *testing.T) {
	sf := newServerFixture(t)

	rec := sf.do(t, http.MethodGet, "/health", nil, false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		stores     map[string]string
		wantCode   int
		wantStatus string
	}{
		{
			name:       "AllOk",
			stores:     nil,
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "CacheDown",
			stores: map[string]string{
				"vector": "ok", "graph": "ok", "history": "ok",
				"cache": "dial tcp: connection refused",
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "GraphDown",
			stores: map[string]string{
				"vector": "ok", "graph": "neo4j unreachable", "history": "ok", "cache": "ok",
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "HistoryDown",
			stores: map[string]string{
				"vector": "ok", "graph": "ok", "history": "database is locked", "cache": "ok",
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "CacheAndVectorDown",
			stores: map[string]string{
				"vector": "qdrant unreachable", "graph": "ok", "history": "ok",
				"cache": "connection refused",
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := newServerFixture(t, func(f *fakeMemory) { f.stores = tt.stores })

			rec := sf.do(t, http.MethodGet, "/v1/health", nil, false)

			require.Equal(t, tt.wantCode, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "elena", body["bot_name"])
		})
	}
}

func TestRememberRoute(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/memories", engine.RememberRequest{
			OwnerID: "user-1",
			Role:    memory.RoleHuman,
			Content: "I just moved to Portland",
		}, true)

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, sf.mem.remembers, 1)
		assert.Equal(t, "user-1", sf.mem.remembers[0].OwnerID)
		assert.Equal(t, float64(1), decodeBody(t, rec)["facts_merged"])
	})

	t.Run("RequiresToken", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/memories", engine.RememberRequest{
			OwnerID: "user-1",
			Content: "hello",
		}, false)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, sf.mem.remembers)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.doRaw(t, http.MethodPost, "/v1/memories", "{not json", true)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("MissingOwner", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/memories", engine.RememberRequest{Content: "hello"}, true)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sf.mem.remembers)
	})

	t.Run("EngineError", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.rememberErr = fmt.Errorf("vector store down")
		})

		rec := sf.do(t, http.MethodPost, "/v1/memories", engine.RememberRequest{
			OwnerID: "user-1",
			Content: "hello",
		}, true)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "vector store down")
	})
}

func TestRecallRoute(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/memories/search", engine.RecallRequest{
			OwnerID: "user-1",
			Query:   "what did we talk about",
		}, false)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.recalls, 1)
		assert.Equal(t, "what did we talk about", sf.mem.recalls[0].Query)
	})

	t.Run("MissingQuery", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/memories/search", engine.RecallRequest{OwnerID: "user-1"}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("EngineError", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.recallErr = fmt.Errorf("context build failed")
		})

		rec := sf.do(t, http.MethodPost, "/v1/memories/search", engine.RecallRequest{
			OwnerID: "user-1",
			Query:   "anything",
		}, false)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestReflectRoute(t *testing.T) {
	sf := newServerFixture(t)

	rec := sf.do(t, http.MethodPost, "/v1/summaries", engine.ReflectRequest{
		OwnerID: "user-1",
		Content: "Talked about the move to Portland.",
		Topics:  []string{"moving"},
	}, true)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, sf.mem.reflects, 1)
	assert.Equal(t, []string{"moving"}, sf.mem.reflects[0].Topics)
}

func TestForgetRoute(t *testing.T) {
	t.Run("PurgesOwner", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodDelete, "/v1/memories/user-1?fact_predicate=LIVES_IN&fact_object_match=portland", nil, true)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.forgets, 1)
		got := sf.mem.forgets[0]
		assert.Equal(t, "user-1", got.OwnerID)
		assert.Equal(t, "LIVES_IN", got.FactPredicate)
		assert.Equal(t, "portland", got.FactObjectMatch)
		assert.Equal(t, float64(4), decodeBody(t, rec)["fragments_purged"])
	})

	t.Run("PartialFailureCarriesCounts", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.forgetRes = &engine.ForgetResult{FragmentsPurged: 3}
			f.forgetErr = fmt.Errorf("history purge: database is locked")
		})

		rec := sf.do(t, http.MethodDelete, "/v1/memories/user-1", nil, true)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody(t, rec)
		assert.Contains(t, body["error"], "history purge")
		result, ok := body["result"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(3), result["fragments_purged"])
	})

	t.Run("RequiresToken", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodDelete, "/v1/memories/user-1", nil, false)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, sf.mem.forgets)
	})
}

func TestMergeFactRoute(t *testing.T) {
	t.Run("Merged", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/facts", knowledge.MergeRequest{
			Subject:    knowledge.UserSubject("user-1"),
			Predicate:  "lives in",
			Object:     "Portland",
			Confidence: 0.9,
		}, true)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.merges, 1)
		assert.Equal(t, knowledge.ResolutionCreated, decodeBody(t, rec)["resolution"])
	})

	t.Run("BadSubjectKind", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/facts", knowledge.MergeRequest{
			Subject:   knowledge.Subject{Kind: "planet", Key: "user-1"},
			Predicate: "lives in",
			Object:    "Portland",
		}, true)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sf.mem.merges)
	})

	t.Run("MissingObject", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/facts", knowledge.MergeRequest{
			Subject:   knowledge.UserSubject("user-1"),
			Predicate: "lives in",
		}, true)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryFactsRoute(t *testing.T) {
	t.Run("UserSubject", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.facts = []knowledge.Fact{
				{Predicate: "LIVES_IN", Object: "portland", Confidence: 0.9},
				{Predicate: "WORKS_AT", Object: "the docks", Confidence: 0.7},
			}
		})

		rec := sf.do(t, http.MethodGet, "/v1/facts/user-1?predicate=LIVES_IN", nil, false)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.factSubjects, 1)
		assert.Equal(t, knowledge.UserSubject("user-1"), sf.mem.factSubjects[0])
		assert.Equal(t, "LIVES_IN", sf.mem.lastFilter)
		assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
	})

	t.Run("CharacterSubject", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodGet, "/v1/facts/elena?kind=character", nil, false)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.factSubjects, 1)
		assert.Equal(t, knowledge.CharacterSubject("elena"), sf.mem.factSubjects[0])
	})

	t.Run("UnknownKind", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodGet, "/v1/facts/user-1?kind=planet", nil, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sf.mem.factSubjects)
	})
}

func TestDeleteFactsRoute(t *testing.T) {
	t.Run("Scoped", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) { f.deleted = 2 })

		rec := sf.do(t, http.MethodDelete, "/v1/facts", knowledge.DeleteRequest{
			Subject:   knowledge.UserSubject("user-1"),
			Predicate: "LIVES_IN",
		}, true)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.deletes, 1)
		assert.Equal(t, float64(2), decodeBody(t, rec)["removed"])
	})

	t.Run("RejectsUnscoped", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodDelete, "/v1/facts", knowledge.DeleteRequest{
			Subject: knowledge.UserSubject("user-1"),
		}, true)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sf.mem.deletes)
	})
}

func TestPruneRoute(t *testing.T) {
	t.Run("EmptyBodyRunsReal", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/maintenance/prune", nil, true)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []bool{false}, sf.mem.maintains)
	})

	t.Run("DryRun", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/maintenance/prune", PruneRequest{DryRun: true}, true)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []bool{true}, sf.mem.maintains)
		assert.Equal(t, true, decodeBody(t, rec)["dry_run"])
	})

	t.Run("MaintenanceError", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.maintainErr = fmt.Errorf("prune run already in progress")
		})

		rec := sf.do(t, http.MethodPost, "/v1/maintenance/prune", nil, true)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGraphHealthRoute(t *testing.T) {
	sf := newServerFixture(t, func(f *fakeMemory) {
		f.graphHealth = &knowledge.GraphHealth{Nodes: 10, OrphanEntities: 3}
	})

	rec := sf.do(t, http.MethodGet, "/v1/maintenance/health", nil, false)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(10), body["nodes"])
	assert.Equal(t, float64(3), body["orphan_entities"])
}

func TestAskRoute(t *testing.T) {
	t.Run("Answered", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/ask", AskRequest{
			OwnerID:  "user-1",
			Question: "where do I live?",
		}, false)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, sf.mem.asks, 1)
		assert.Equal(t, true, decodeBody(t, rec)["asked"])
	})

	t.Run("MissingQuestion", func(t *testing.T) {
		sf := newServerFixture(t)

		rec := sf.do(t, http.MethodPost, "/v1/ask", AskRequest{OwnerID: "user-1"}, false)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sf.mem.asks)
	})

	t.Run("Declined", func(t *testing.T) {
		sf := newServerFixture(t, func(f *fakeMemory) {
			f.answer = &engine.Answer{Asked: false}
		})

		rec := sf.do(t, http.MethodPost, "/v1/ask", AskRequest{
			OwnerID:  "user-1",
			Question: "what is the meaning of life?",
		}, false)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["asked"])
	})
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	sf := newServerFixture(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/memories"},
		{http.MethodPost, "/v1/summaries"},
		{http.MethodPost, "/v1/facts"},
		{http.MethodDelete, "/v1/facts"},
		{http.MethodDelete, "/v1/memories/user-1"},
		{http.MethodPost, "/v1/maintenance/prune"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := sf.doRaw(t, rt.method, rt.path, "{}", false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	mem := &fakeMemory{}
	srv, err := New(mem, testServerConfig(), metrics.New(), nil, testLogger())
	require.NoError(t, err)

	// Populate the histogram before scraping.
	warm := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whisperengine_http_request_duration_seconds")
}
