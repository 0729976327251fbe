// Package scheduler runs watch cycles: scan the watch roots, then dehusk
// every settled wrapped directory with bounded concurrency.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dehusk/internal/config"
	"dehusk/internal/limiter"
	"dehusk/internal/metrics"
	"dehusk/internal/runner"
	"dehusk/internal/scan"
)

// CycleReport summarizes one watch cycle
type CycleReport struct {
	Candidates int
	Collapsed  int
	Flat       int // settled but nothing to collapse
	Failed     int
	Duration   time.Duration
}

// Scheduler drives watch cycles
type Scheduler struct {
	cfg     *config.Config
	runner  *runner.Runner
	scanner *scan.Scanner
	limiter *limiter.OpLimiter
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// New creates a Scheduler for the watch section of cfg
func New(cfg *config.Config, r *runner.Runner, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	metrics.Init()
	return &Scheduler{
		cfg:     cfg,
		runner:  r,
		scanner: scan.NewScanner(cfg, logger),
		limiter: limiter.NewOpLimiter(cfg.Watch.RatePerSecond, cfg.Watch.Burst),
		logger:  logger,
		now:     time.Now,
	}
}

// RunOnce runs a single watch cycle. Individual dehusk failures are counted
// in the report, not returned.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	if s.cfg == nil {
		return report, errors.New("nil config")
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	start := s.now()
	for _, root := range s.cfg.Watch.Paths {
		if err := metrics.UpdateRootUsage(root); err != nil {
			s.logger.Debugw("failed to read filesystem usage", "root", root, "error", err)
		}
	}

	candidates, roots, err := s.scanner.Scan(s.cfg.Watch.Paths, start)
	if err != nil {
		metrics.ErrorsTotal.Inc()
		return report, err
	}
	for _, rr := range roots {
		if rr.Err != nil {
			metrics.ErrorsTotal.Inc()
		}
		metrics.WatchCandidates.WithLabelValues(rr.Root).Set(float64(len(rr.Candidates)))
	}
	report.Candidates = len(candidates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.Watch.Concurrency))

	for _, cand := range candidates {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}

			pending, err := s.runner.Pending(gctx, cand.Path, s.cfg.Depth)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warnw("failed to inspect candidate", "path", cand.Path, "error", err)
				mu.Lock()
				report.Failed++
				mu.Unlock()
				return nil
			}
			if !pending {
				mu.Lock()
				report.Flat++
				mu.Unlock()
				return nil
			}

			out := s.runner.Dehusk(gctx, cand.Path, s.cfg.Depth)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.Err != nil:
				report.Failed++
			case out.Result.Collapsed():
				report.Collapsed++
			default:
				report.Flat++
			}
			return nil
		})
	}

	err = g.Wait()
	report.Duration = s.now().Sub(start)
	metrics.RecordCycle(report.Duration)

	s.logger.Infow("watch cycle complete",
		"candidates", report.Candidates,
		"collapsed", report.Collapsed,
		"flat", report.Flat,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, err
}

// Run runs a cycle immediately, then on every interval tick and whenever
// trigger fires, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, trigger <-chan struct{}) error {
	if s.cfg == nil {
		return errors.New("nil config")
	}

	if _, err := s.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Errorw("error running watch cycle", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
		case <-trigger:
			s.logger.Infow("watch cycle triggered")
		}
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Errorw("error running watch cycle", "error", err)
		}
	}
}
