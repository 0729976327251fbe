// Package runner wraps a Dehusker with the accounting every front-end
// needs: payload statistics, structured logging, Prometheus metrics and the
// SQLite history.
package runner

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dehusk/internal/database"
	"dehusk/internal/dehusk"
	"dehusk/internal/disk"
	"dehusk/internal/metrics"
)

// Sources recorded in the history
const (
	SourceCLI     = "cli"
	SourceWatch   = "watch"
	SourceExtract = "extract"
	SourceRecover = "recover"
)

// Recorder persists operation records. *database.HistoryDB implements it.
type Recorder interface {
	Record(rec *database.OperationRecord) error
}

// Outcome describes one dehusk attempt
type Outcome struct {
	OpID     string
	Result   dehusk.Result
	Files    int64
	Bytes    int64
	Duration time.Duration
	DryRun   bool
	Err      error
}

// Runner performs dehusk operations with logging, metrics and history
type Runner struct {
	dehusker   *dehusk.Dehusker
	logger     *zap.SugaredLogger
	recorder   Recorder
	source     string
	dryRun     bool
	recordNoop bool
}

// Option configures a Runner
type Option func(*Runner)

// WithRecorder stores every operation in rec
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithDryRun only runs the read-only traversal and reports what would move
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithoutNoopRecords skips history rows for targets that had nothing to
// collapse. The watcher sees the same flat directories every cycle.
func WithoutNoopRecords() Option {
	return func(r *Runner) { r.recordNoop = false }
}

// New creates a Runner. source labels the history rows it writes.
func New(d *dehusk.Dehusker, logger *zap.SugaredLogger, source string, opts ...Option) *Runner {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Runner{
		dehusker:   d,
		logger:     logger,
		source:     source,
		recordNoop: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pending reports whether path currently has wrapper levels to collapse.
func (r *Runner) Pending(ctx context.Context, path string, depth int) (bool, error) {
	res, err := r.dehusker.FindSeed(ctx, path, depth)
	if err != nil {
		return false, err
	}
	return res.Collapsed(), nil
}

// Dehusk collapses path and accounts the outcome.
func (r *Runner) Dehusk(ctx context.Context, path string, depth int) Outcome {
	out := Outcome{OpID: uuid.NewString(), DryRun: r.dryRun}
	start := time.Now()

	if r.dryRun {
		out.Result, out.Err = r.dehusker.FindSeed(ctx, path, depth)
		out.Duration = time.Since(start)
		if out.Err != nil {
			r.logger.Errorw("dry run failed", "path", path, "error", out.Err)
			return out
		}
		r.logger.Infow("[DRY RUN] would collapse",
			"path", path,
			"seed", out.Result.Seed,
			"levels", out.Result.Levels,
		)
		return out
	}

	out.Result, out.Err = r.dehusker.Run(ctx, path, depth)
	out.Duration = time.Since(start)

	if out.Err != nil {
		r.fail(path, out)
		return out
	}

	if out.Result.Collapsed() {
		if stats, err := disk.ScanPath(out.Result.Path); err != nil {
			r.logger.Warnw("failed to account relocated payload", "path", path, "error", err)
		} else {
			out.Files, out.Bytes = stats.FileCount, stats.UsedBytes
		}
		r.logger.Infow("collapsed",
			"op_id", out.OpID,
			"path", path,
			"seed", out.Result.Seed,
			"levels", out.Result.Levels,
			"files", out.Files,
			"bytes", out.Bytes,
			"duration", out.Duration,
		)
	} else {
		r.logger.Debugw("nothing to collapse", "path", path)
	}
	metrics.RecordSuccess(out.Result.Levels, out.Files, out.Bytes, out.Duration)

	status := database.StatusCollapsed
	if !out.Result.Collapsed() {
		if !r.recordNoop {
			return out
		}
		status = database.StatusNoop
	}
	r.record(&database.OperationRecord{
		OpID:       out.OpID,
		Source:     r.source,
		Path:       absOr(path),
		Seed:       out.Result.Seed,
		Levels:     out.Result.Levels,
		Files:      out.Files,
		Bytes:      out.Bytes,
		Status:     status,
		DurationMS: out.Duration.Milliseconds(),
	})
	return out
}

func (r *Runner) fail(path string, out Outcome) {
	phase := "unknown"
	temp := ""
	var de *dehusk.Error
	if errors.As(out.Err, &de) {
		phase = string(de.Phase)
		temp = de.Temp
	}

	if temp != "" {
		r.logger.Errorw("dehusk left an intermediate state; run recover",
			"op_id", out.OpID,
			"path", path,
			"phase", phase,
			"temp", temp,
			"error", out.Err,
		)
	} else {
		r.logger.Errorw("dehusk failed",
			"op_id", out.OpID,
			"path", path,
			"phase", phase,
			"error", out.Err,
		)
	}
	metrics.RecordFailure(phase, temp != "", out.Duration)

	r.record(&database.OperationRecord{
		OpID:       out.OpID,
		Source:     r.source,
		Path:       absOr(path),
		Seed:       out.Result.Seed,
		Levels:     out.Result.Levels,
		Status:     database.StatusFailed,
		Phase:      phase,
		TempPath:   temp,
		Error:      out.Err.Error(),
		DurationMS: out.Duration.Milliseconds(),
	})
}

// Recover finishes an interrupted swap of path and records what it did.
func (r *Runner) Recover(path string) (dehusk.RecoverResult, error) {
	start := time.Now()
	res, err := r.dehusker.Recover(path)
	if err != nil {
		r.logger.Errorw("recovery failed", "path", path, "temp", res.Temp, "error", err)
		metrics.ErrorsTotal.Inc()
		return res, err
	}
	if res.StaleLock {
		r.logger.Warnw("stale lock file present", "path", path, "lock", dehusk.LockPath(absOr(path)))
	}
	if res.Action == dehusk.RecoverNone {
		r.logger.Infow("nothing to recover", "path", path)
		return res, nil
	}

	r.logger.Infow("recovered", "path", path, "temp", res.Temp, "action", res.Action)
	r.record(&database.OperationRecord{
		Source:     SourceRecover,
		Path:       absOr(path),
		Seed:       res.Temp,
		Status:     database.StatusRecovered,
		Phase:      string(res.Action),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return res, nil
}

// record writes rec to the history; failures are logged, never returned
func (r *Runner) record(rec *database.OperationRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(rec); err != nil {
		r.logger.Errorw("failed to record operation", "path", rec.Path, "error", err)
		metrics.ErrorsTotal.Inc()
	}
}

func absOr(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
