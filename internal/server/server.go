// Package server exposes the memory engine over an authenticated HTTP
// API. Read paths are open to the platform's characters; every mutating
// route requires a signed agent token.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/config"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// Server wraps the gin engine and its HTTP listener.
type Server struct {
	cfg    config.ServerConfig
	router *gin.Engine
	logger *logrus.Logger

	mu      sync.Mutex
	srv     *http.Server
	running bool
}

// New builds the router and wires every route. A nil metrics set drops
// the duration histogram and the /metrics endpoint; a nil tracer drops
// the tracing middleware.
func New(mem Memory, cfg config.ServerConfig, m *metrics.Metrics, tracer trace.Tracer, logger *logrus.Logger) (*Server, error) {
	if mem == nil {
		return nil, fmt.Errorf("memory engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	gin.SetMode(cfg.Mode)

	h := NewHandler(mem, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLog(logger))
	if m != nil {
		router.Use(requestMetrics(m))
	}
	if tracer != nil {
		router.Use(traceRequests(tracer))
	}

	router.GET("/health", h.Liveness)
	router.GET("/v1/health", h.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	open := router.Group("/v1")
	{
		open.POST("/memories/search", h.Recall)
		open.GET("/facts/:subject", h.QueryFacts)
		open.GET("/maintenance/health", h.GraphHealth)
		open.POST("/ask", h.Ask)
	}

	protected := router.Group("/v1", RequireAgent(cfg.JWTSecret))
	{
		protected.POST("/memories", h.Remember)
		protected.POST("/summaries", h.Reflect)
		protected.POST("/facts", h.MergeFact)
		protected.DELETE("/facts", h.DeleteFacts)
		protected.DELETE("/memories/:owner", h.Forget)
		protected.POST("/maintenance/prune", h.Prune)
	}

	return &Server{cfg: cfg, router: router, logger: logger}, nil
}

// Router exposes the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the listener and blocks until Shutdown or a listener
// failure.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.srv = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithField("addr", s.cfg.Addr()).Info("Starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.running = false
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return srv.Shutdown(ctx)
}
