// Package logging builds the zap logger shared by the CLI and the watcher:
// human-readable lines on the console, JSON lines in an optional log file
// that is rotated by age.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dehusk/internal/config"
)

// Options controls where and how much is logged.
type Options struct {
	Level        string // "debug", "info", "warn", "error"
	File         string // empty disables the file sink
	RotationDays int
	Console      io.Writer // nil means stderr
}

// New creates a sugared logger writing to the console and, if set, to
// opts.File. The returned close function flushes the logger and closes the
// log file.
func New(opts Options) (*zap.SugaredLogger, func() error, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), zapcore.AddSync(console), level),
	}

	var (
		rotateErr error
		file      *os.File
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure log directory: %w", err)
		}

		rotateDays := opts.RotationDays
		if rotateDays <= 0 {
			rotateDays = 30
		}
		rotateErr = rotateLogsIfNeeded(opts.File, rotateDays)

		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(file), level))
	}

	logger := zap.New(zapcore.NewTee(cores...)).Sugar()
	if rotateErr != nil {
		logger.Warnw("log rotation failed", "file", opts.File, "error", rotateErr)
	}

	closeFn := func() error {
		// stderr refuses fsync on some platforms
		_ = logger.Sync()
		if file == nil {
			return nil
		}
		return file.Close()
	}
	return logger, closeFn, nil
}

// FromConfig builds the logger described by cfg along with its close
// function. If the file sink cannot be set up it falls back to console-only
// logging and says so.
func FromConfig(cfg *config.Config, console io.Writer) (*zap.SugaredLogger, func() error) {
	opts := Options{Console: console}
	if cfg != nil {
		opts.Level = cfg.Logging.Level
		opts.File = cfg.Logging.File
		opts.RotationDays = cfg.Logging.RotationDays
	}

	logger, closeFn, err := New(opts)
	if err == nil {
		return logger, closeFn
	}
	opts.File = ""
	opts.Level = "info"
	logger, closeFn, _ = New(opts)
	logger.Warnw("falling back to console logging", "error", err)
	return logger, closeFn
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return l, nil
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg
}

// rotateLogsIfNeeded renames the log file aside once it is older than
// rotationDays. Rotated copies are kept for one more rotation period.
func rotateLogsIfNeeded(logPath string, rotationDays int) error {
	info, err := os.Stat(logPath)
	if err != nil {
		// Log file doesn't exist yet, nothing to rotate
		return nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -rotationDays)
	if !info.ModTime().Before(cutoffTime) {
		return nil
	}

	rotatedPath := logPath + "." + info.ModTime().Format("20060102-150405")
	if err := os.Rename(logPath, rotatedPath); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return cleanupOldLogs(logPath, rotationDays)
}

// cleanupOldLogs removes rotated copies of logPath older than twice
// rotationDays
func cleanupOldLogs(logPath string, rotationDays int) error {
	logDir := filepath.Dir(logPath)
	prefix := filepath.Base(logPath) + "."

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return err
	}

	cutoffTime := time.Now().AddDate(0, 0, -2*rotationDays)

	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffTime) {
			fullPath := filepath.Join(logDir, entry.Name())
			if err := os.Remove(fullPath); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("remove old log file %s: %w", fullPath, err)
			}
		}
	}
	return firstErr
}
