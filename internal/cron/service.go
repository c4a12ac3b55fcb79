package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// Cadenced is implemented by jobs that should run less often than every
// cycle. Jobs without it run on every cycle.
type Cadenced interface {
	Every() time.Duration
}

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service executes registered cron jobs on a fixed cadence while holding the
// cluster-wide lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
	lastRun  map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}, nil
}

var errLeaseLost = errors.New("cron lock lease lost")

// Run runs one cycle immediately, then one per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock, skipping cycle")
		s.metrics.CycleSkipped()
		return nil
	}
	defer func() {
		// release even when ctx is already canceled
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	ran := 0
	for _, job := range s.registry.Jobs() {
		if !s.due(job) {
			continue
		}
		s.runJob(ctx, job)
		ran++
		if err := s.extendLease(ctx); err != nil {
			return fmt.Errorf("after %s: %w", job.Name(), err)
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "jobs_run", ran), "scheduled run complete")
	return nil
}

// extendLease renews the lock between jobs so a slow cycle keeps exclusivity.
func (s *Service) extendLease(ctx context.Context) error {
	ext, ok := s.lock.(Extender)
	if !ok {
		return nil
	}
	held, err := ext.Extend(ctx)
	if err != nil {
		return err
	}
	if !held {
		return errLeaseLost
	}
	return nil
}

// due reports whether a cadenced job's period has elapsed since its last
// start on this instance.
func (s *Service) due(job Job) bool {
	cadenced, ok := job.(Cadenced)
	if !ok || cadenced.Every() <= 0 {
		return true
	}
	last, seen := s.lastRun[job.Name()]
	return !seen || s.now().Sub(last) >= cadenced.Every()
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	s.lastRun[name] = s.now()

	start := time.Now()
	err := runGuarded(jobCtx, job)
	duration := time.Since(start)
	s.metrics.JobFinished(name, duration, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

// runGuarded turns a job panic into an error so the remaining jobs still run
// and the lock is released.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), rec)
		}
	}()
	return job.Run(ctx)
}
