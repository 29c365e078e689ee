package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maintenanceTimeout bounds one scheduled prune pass.
const maintenanceTimeout = 10 * time.Minute

// SchedulerOptions control the background maintenance loop.
type SchedulerOptions struct {
	Interval time.Duration
	// Jitter is added to each interval as a random delay in [0, Jitter)
	// so a fleet of characters spreads its prune load.
	Jitter time.Duration
	DryRun bool
}

// Scheduler runs Maintain on an interval until stopped.
type Scheduler struct {
	engine *Engine
	opts   SchedulerOptions
	logger *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(engine *Engine, opts SchedulerOptions, logger *logrus.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if opts.Jitter < 0 || opts.Jitter >= opts.Interval {
		return nil, fmt.Errorf("jitter must be shorter than the interval")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{engine: engine, opts: opts, logger: logger}, nil
}

// Start launches the loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.logger.WithFields(logrus.Fields{
		"interval": s.opts.Interval,
		"jitter":   s.opts.Jitter,
		"dry_run":  s.opts.DryRun,
	}).Info("Maintenance scheduler started")
	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.nextDelay())
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	d := s.opts.Interval
	if s.opts.Jitter > 0 {
		d += rand.N(s.opts.Jitter)
	}
	return d
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	report, err := s.engine.Maintain(runCtx, s.opts.DryRun)
	if err != nil {
		s.logger.WithError(err).Warn("Scheduled maintenance failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"dry_run":       report.DryRun,
		"total_removed": report.TotalRemoved(),
		"duration":      report.Duration,
		"errors":        len(report.Errors),
	}).Info("Scheduled maintenance finished")
}
