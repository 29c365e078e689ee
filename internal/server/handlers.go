package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/engine"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
)

// Memory is the engine surface the HTTP layer drives.
type Memory interface {
	BotName() string
	Remember(ctx context.Context, req *engine.RememberRequest) (*engine.RememberResult, error)
	Recall(ctx context.Context, req *engine.RecallRequest) (*engine.MemoryContext, error)
	Reflect(ctx context.Context, req *engine.ReflectRequest) (*memory.WriteResult, error)
	Forget(ctx context.Context, req *engine.ForgetRequest) (*engine.ForgetResult, error)
	MergeFact(ctx context.Context, req *knowledge.MergeRequest) (*knowledge.MergeOutcome, error)
	QueryFacts(ctx context.Context, subject knowledge.Subject, predicateFilter string) ([]knowledge.Fact, error)
	DeleteFacts(ctx context.Context, req *knowledge.DeleteRequest) (int64, error)
	Maintain(ctx context.Context, dryRun bool) (*knowledge.PruneReport, error)
	GraphHealth(ctx context.Context) (*knowledge.GraphHealth, error)
	Ask(ctx context.Context, ownerID, question string) (*engine.Answer, error)
	Health(ctx context.Context) map[string]string
}

var _ Memory = (*engine.Engine)(nil)

// Handler holds the route handlers for the memory API.
type Handler struct {
	mem    Memory
	logger *logrus.Logger
}

// NewHandler creates the route handler set.
func NewHandler(mem Memory, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{mem: mem, logger: logger}
}

// Liveness handles GET /health
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Health handles GET /v1/health
//
// The cache going down degrades the service; a core store going down
// makes it unhealthy and the endpoint answers 503 so orchestrators stop
// routing to it.
func (h *Handler) Health(c *gin.Context) {
	stores := h.mem.Health(c.Request.Context())

	status := "healthy"
	code := http.StatusOK
	for name, state := range stores {
		if state == "ok" {
			continue
		}
		switch name {
		case "vector", "graph", "history":
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		default:
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"bot_name":  h.mem.BotName(),
		"stores":    stores,
		"timestamp": time.Now().UTC(),
	})
}

// Remember handles POST /v1/memories
func (h *Handler) Remember(c *gin.Context) {
	var req engine.RememberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and content are required"})
		return
	}

	res, err := h.mem.Remember(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to store memory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Recall handles POST /v1/memories/search
func (h *Handler) Recall(c *gin.Context) {
	var req engine.RecallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and query are required"})
		return
	}

	mc, err := h.mem.Recall(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, mc)
}

// Reflect handles POST /v1/summaries
func (h *Handler) Reflect(c *gin.Context) {
	var req engine.ReflectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and content are required"})
		return
	}

	write, err := h.mem.Reflect(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to store summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, write)
}

// Forget handles DELETE /v1/memories/:owner
//
// Optional fact_predicate and fact_object_match query parameters extend
// the purge to the owner's matching graph edges.
func (h *Handler) Forget(c *gin.Context) {
	req := engine.ForgetRequest{
		OwnerID:         c.Param("owner"),
		FactPredicate:   c.Query("fact_predicate"),
		FactObjectMatch: c.Query("fact_object_match"),
	}

	h.logger.WithFields(logrus.Fields{
		"owner_id": req.OwnerID,
		"agent":    c.GetString(contextAgentKey),
	}).Info("Owner purge requested")

	res, err := h.mem.Forget(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to purge owner")
		body := gin.H{"error": err.Error()}
		if res != nil {
			// Partial counts still matter to the caller.
			body["result"] = res
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MergeFact handles POST /v1/facts
func (h *Handler) MergeFact(c *gin.Context) {
	var req knowledge.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Subject.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Predicate) == "" || strings.TrimSpace(req.Object) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "predicate and object are required"})
		return
	}

	outcome, err := h.mem.MergeFact(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to merge fact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// QueryFacts handles GET /v1/facts/:subject
//
// The kind query parameter switches the lookup to character subjects;
// predicate narrows to one relationship type.
func (h *Handler) QueryFacts(c *gin.Context) {
	subject := knowledge.Subject{
		Kind: knowledge.SubjectKind(c.DefaultQuery("kind", string(knowledge.SubjectUser))),
		Key:  c.Param("subject"),
	}
	if err := subject.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	facts, err := h.mem.QueryFacts(c.Request.Context(), subject, c.Query("predicate"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to query facts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject": subject,
		"facts":   facts,
		"count":   len(facts),
	})
}

// DeleteFacts handles DELETE /v1/facts
func (h *Handler) DeleteFacts(c *gin.Context) {
	var req knowledge.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Subject.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Predicate == "" && req.ObjectMatch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "predicate or object_match is required"})
		return
	}

	removed, err := h.mem.DeleteFacts(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete facts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// PruneRequest is the body of a maintenance run request.
type PruneRequest struct {
	DryRun bool `json:"dry_run"`
}

// Prune handles POST /v1/maintenance/prune
//
// An empty body runs a real prune; {"dry_run": true} only reports.
func (h *Handler) Prune(c *gin.Context) {
	var req PruneRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"dry_run": req.DryRun,
		"agent":   c.GetString(contextAgentKey),
	}).Info("Maintenance run requested")

	report, err := h.mem.Maintain(c.Request.Context(), req.DryRun)
	if err != nil {
		h.logger.WithError(err).Error("Maintenance run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GraphHealth handles GET /v1/maintenance/health
func (h *Handler) GraphHealth(c *gin.Context) {
	report, err := h.mem.GraphHealth(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read graph health")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// AskRequest is the body of a natural-language graph question.
type AskRequest struct {
	OwnerID  string `json:"owner_id"`
	Question string `json:"question"`
}

// Ask handles POST /v1/ask
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and question are required"})
		return
	}

	answer, err := h.mem.Ask(c.Request.Context(), req.OwnerID, req.Question)
	if err != nil {
		h.logger.WithError(err).Error("Failed to answer question")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answer)
}
