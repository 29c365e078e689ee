// memoryd is the WhisperEngine memory daemon: one process serving the
// memory and knowledge engine for a single character over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/analytics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/cache"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/config"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/embedding"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/engine"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/events"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/extraction"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/history"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/knowledge"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/server"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/telemetry"
	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/vectordb/qdrant"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("memoryd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	m := metrics.New()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	tracing, err := telemetry.Setup(bootCtx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	vectors, err := qdrant.NewClient(cfg.Qdrant, logger)
	if err != nil {
		return fmt.Errorf("failed to build qdrant client: %w", err)
	}
	if err := vectors.Connect(bootCtx); err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	graph, err := knowledge.NewGraph(cfg.Graph, m, logger)
	if err != nil {
		return fmt.Errorf("failed to build graph store: %w", err)
	}
	if err := graph.Connect(bootCtx); err != nil {
		return fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	synapse, err := knowledge.NewSynapse(graph, cfg.Synapse, logger)
	if err != nil {
		return fmt.Errorf("failed to build synapse bridge: %w", err)
	}
	pruner, err := knowledge.NewPruner(graph, cfg.Prune, m, logger)
	if err != nil {
		return fmt.Errorf("failed to build pruner: %w", err)
	}

	embedder, err := embedding.NewHTTPProvider(cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("failed to build embedding provider: %w", err)
	}

	memories, err := memory.NewStore(vectors, embedder, synapse, cfg.Memory, m, logger)
	if err != nil {
		return fmt.Errorf("failed to build memory store: %w", err)
	}

	histories, err := history.NewWithFallback(bootCtx, cfg.History, m, logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	contextCache, err := cache.New(cfg.Cache, m, logger)
	if err != nil {
		return fmt.Errorf("failed to build context cache: %w", err)
	}

	publisher, err := events.NewFromConfig(cfg.Events, m, logger)
	if err != nil {
		return fmt.Errorf("failed to build event publisher: %w", err)
	}

	sink, err := analytics.NewFromConfig(cfg.Analytics, logger)
	if err != nil {
		return fmt.Errorf("failed to open analytics sink: %w", err)
	}

	extractor, translator, err := extraction.New(cfg.Extraction, logger)
	if err != nil {
		return fmt.Errorf("failed to build extraction clients: %w", err)
	}

	eng, err := engine.New(engine.Deps{
		Memories:   memories,
		Facts:      graph,
		Maintainer: pruner,
		Mirrors:    synapse,
		History:    histories,
		Cache:      contextCache,
		Events:     publisher,
		Analytics:  sink,
		Extractor:  extractor,
		Translator: translator,
	}, engineOptions(cfg.Engine), m, logger)
	if err != nil {
		return fmt.Errorf("failed to compose engine: %w", err)
	}
	if err := eng.Open(bootCtx); err != nil {
		return fmt.Errorf("stores not ready: %w", err)
	}

	var sched *engine.Scheduler
	if cfg.Engine.Scheduler.Enabled {
		sched, err = engine.NewScheduler(eng, engine.SchedulerOptions{
			Interval: cfg.Engine.Scheduler.Interval,
			Jitter:   cfg.Engine.Scheduler.Jitter,
			DryRun:   cfg.Engine.Scheduler.DryRun,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to build maintenance scheduler: %w", err)
		}
		sched.Start(context.Background())
	}

	srv, err := server.New(eng, cfg.Server, m, tracing.Tracer("memoryd"), logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"bot_name": eng.BotName(),
		"addr":     cfg.Server.Addr(),
	}).Info("Memory engine ready")

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server forced to shutdown")
	}
	if err := eng.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Engine close reported errors")
	}
	if err := vectors.Close(); err != nil {
		logger.WithError(err).Warn("Error closing qdrant client")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Error flushing traces")
	}

	logger.Info("Shutdown complete")
	return nil
}

func engineOptions(cfg config.EngineConfig) engine.Options {
	return engine.Options{
		BotName:           cfg.BotName,
		ExtractionEnabled: cfg.ExtractionEnabled,
		MemoryLimit:       cfg.Context.MemoryLimit,
		SummaryLimit:      cfg.Context.SummaryLimit,
		FactLimit:         cfg.Context.FactLimit,
		HistoryLimit:      cfg.Context.HistoryLimit,
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
