package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g.
// EDEHUSKDIR_DEPTH=2 or EDEHUSKDIR_SILENT=1.
const EnvPrefix = "EDEHUSKDIR"

const (
	RemovalStrict    = "strict"
	RemovalRecursive = "recursive"
)

type PrometheusCfg struct {
	Port int `yaml:"port" toml:"port" json:"port"`
}

type LoggingCfg struct {
	File         string `yaml:"file" toml:"file" json:"file"`
	Level        string `yaml:"level" toml:"level" json:"level"`
	RotationDays int    `yaml:"rotation_days" toml:"rotation_days" json:"rotation_days" split_words:"true"` // Days to keep rotated logs
}

// WatchCfg drives "dehusk watch": every interval, each child directory of
// Paths that has not been modified for SettleSeconds is dehusked.
type WatchCfg struct {
	Paths           []string `yaml:"paths" toml:"paths" json:"paths"`
	Excludes        []string `yaml:"excludes" toml:"excludes" json:"excludes"` // doublestar patterns, matched against the full path
	IntervalSeconds int      `yaml:"interval_seconds" toml:"interval_seconds" json:"interval_seconds" split_words:"true"`
	SettleSeconds   int      `yaml:"settle_seconds" toml:"settle_seconds" json:"settle_seconds" split_words:"true"`
	Concurrency     int      `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
	RatePerSecond   float64  `yaml:"rate_per_second" toml:"rate_per_second" json:"rate_per_second" split_words:"true"` // 0 disables throttling
	Burst           int      `yaml:"burst" toml:"burst" json:"burst"`
}

type Config struct {
	Depth   int    `yaml:"depth" toml:"depth" json:"depth"` // Negative means unbounded
	Silent  bool   `yaml:"silent" toml:"silent" json:"silent"`
	Lock    bool   `yaml:"lock" toml:"lock" json:"lock"`
	Removal string `yaml:"removal" toml:"removal" json:"removal"`

	AllowedRoots   []string `yaml:"allowed_roots" toml:"allowed_roots" json:"allowed_roots" split_words:"true"`
	ProtectedPaths []string `yaml:"protected_paths" toml:"protected_paths" json:"protected_paths" split_words:"true"`

	Watch        WatchCfg      `yaml:"watch" toml:"watch" json:"watch"`
	Prometheus   PrometheusCfg `yaml:"prometheus" toml:"prometheus" json:"prometheus"`
	Logging      LoggingCfg    `yaml:"logging" toml:"logging" json:"logging"`
	DatabasePath string        `yaml:"database_path" toml:"database_path" json:"database_path" split_words:"true"` // SQLite history; empty disables recording
	NFSTimeout   int           `yaml:"nfs_timeout_seconds" toml:"nfs_timeout_seconds" json:"nfs_timeout_seconds" split_words:"true"`
}

var (
	errInvalidPath    = errors.New("path must be absolute")
	errInvalidRemoval = errors.New("removal must be \"strict\" or \"recursive\"")
	errInvalidLevel   = errors.New("logging.level must be debug, info, warn or error")
	errInvalidPattern = errors.New("invalid exclude pattern")
	errNegativeRate   = errors.New("watch.rate_per_second cannot be negative")
)

// Default returns the configuration used when no file is given. Decoding a
// file on top of it keeps these values for absent keys.
func Default() *Config {
	return &Config{
		Depth:   -1,
		Removal: RemovalStrict,
	}
}

// Load reads path (YAML, or TOML for a .toml extension), applies
// EDEHUSKDIR_* environment overrides and fills in defaults. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := decode(f, formatOf(path), cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

func decode(r io.Reader, format string, cfg *Config) error {
	switch format {
	case "toml":
		if err := toml.NewDecoder(r).Decode(cfg); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAndDefault() error {
	c.Removal = strings.ToLower(strings.TrimSpace(c.Removal))
	switch c.Removal {
	case "":
		c.Removal = RemovalStrict
	case RemovalStrict, RemovalRecursive:
	default:
		return fmt.Errorf("%w: %q", errInvalidRemoval, c.Removal)
	}

	if c.Prometheus.Port == 0 {
		c.Prometheus.Port = 9090
	}

	// Set defaults for logging
	if c.Logging.RotationDays <= 0 {
		c.Logging.RotationDays = 30
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", errInvalidLevel, c.Logging.Level)
	}

	if c.NFSTimeout <= 0 {
		c.NFSTimeout = 5
	}

	// Set defaults for watch mode
	if c.Watch.IntervalSeconds <= 0 {
		c.Watch.IntervalSeconds = 60
	}
	if c.Watch.SettleSeconds <= 0 {
		c.Watch.SettleSeconds = 30
	}
	if c.Watch.Concurrency <= 0 {
		c.Watch.Concurrency = 4
	}
	if c.Watch.RatePerSecond < 0 {
		return errNegativeRate
	}
	if c.Watch.Burst <= 0 {
		c.Watch.Burst = 1
	}
	for _, p := range c.Watch.Excludes {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", errInvalidPattern, p)
		}
	}

	var err error
	if c.AllowedRoots, err = cleanAll(c.AllowedRoots); err != nil {
		return fmt.Errorf("allowed_roots: %w", err)
	}
	if c.ProtectedPaths, err = cleanAll(c.ProtectedPaths); err != nil {
		return fmt.Errorf("protected_paths: %w", err)
	}
	if c.Watch.Paths, err = cleanAll(c.Watch.Paths); err != nil {
		return fmt.Errorf("watch.paths: %w", err)
	}
	if c.Logging.File != "" {
		if c.Logging.File, err = cleanAbsolute(c.Logging.File); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}

	return nil
}

func cleanAll(paths []string) ([]string, error) {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cp, err := cleanAbsolute(p)
		if err != nil {
			return nil, err
		}
		cleaned = append(cleaned, cp)
	}
	return cleaned, nil
}

func cleanAbsolute(p string) (string, error) {
	if p == "" {
		return "", errInvalidPath
	}
	cp := filepath.Clean(p)
	if !filepath.IsAbs(cp) {
		return "", fmt.Errorf("%w: %s", errInvalidPath, p)
	}
	return cp, nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

func (c *Config) Settle() time.Duration {
	return time.Duration(c.Watch.SettleSeconds) * time.Second
}

func (c *Config) NFSTimeoutDuration() time.Duration {
	return time.Duration(c.NFSTimeout) * time.Second
}

func (c *Config) PrometheusAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}
