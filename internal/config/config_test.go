package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Depth)
	assert.Equal(t, RemovalStrict, cfg.Removal)
	assert.Equal(t, 9090, cfg.Prometheus.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Logging.RotationDays)
	assert.Equal(t, time.Minute, cfg.Interval())
	assert.Equal(t, 30*time.Second, cfg.Settle())
	assert.Equal(t, 4, cfg.Watch.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.NFSTimeoutDuration())
	assert.Equal(t, ":9090", cfg.PrometheusAddress())
	assert.Empty(t, cfg.DatabasePath)
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "dehusk.yaml", `
depth: 2
lock: true
removal: Recursive
allowed_roots: [/srv/incoming/]
watch:
  paths: [/srv/incoming]
  excludes: ["**/.partial*"]
  interval_seconds: 10
  settle_seconds: 5
  concurrency: 2
  rate_per_second: 1.5
prometheus:
  port: 9191
logging:
  file: /var/log/dehusk/dehusk.log
  level: DEBUG
database_path: /var/lib/dehusk/history.db
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Depth)
	assert.True(t, cfg.Lock)
	assert.Equal(t, RemovalRecursive, cfg.Removal)
	assert.Equal(t, []string{"/srv/incoming"}, cfg.AllowedRoots)
	assert.Equal(t, []string{"/srv/incoming"}, cfg.Watch.Paths)
	assert.Equal(t, 10*time.Second, cfg.Interval())
	assert.Equal(t, 5*time.Second, cfg.Settle())
	assert.Equal(t, 2, cfg.Watch.Concurrency)
	assert.Equal(t, 1.5, cfg.Watch.RatePerSecond)
	assert.Equal(t, 1, cfg.Watch.Burst)
	assert.Equal(t, ":9191", cfg.PrometheusAddress())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/dehusk/history.db", cfg.DatabasePath)
}

func TestLoad_TOML(t *testing.T) {
	p := writeFile(t, "dehusk.toml", `
depth = 1
removal = "strict"

[watch]
paths = ["/data/drop"]
concurrency = 8
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Depth)
	assert.Equal(t, []string{"/data/drop"}, cfg.Watch.Paths)
	assert.Equal(t, 8, cfg.Watch.Concurrency)
}

func TestLoad_EmptyYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Depth)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EDEHUSKDIR_DEPTH", "3")
	t.Setenv("EDEHUSKDIR_SILENT", "1")
	t.Setenv("EDEHUSKDIR_ALLOWED_ROOTS", "/a,/b")
	t.Setenv("EDEHUSKDIR_WATCH_CONCURRENCY", "9")
	t.Setenv("EDEHUSKDIR_LOGGING_LEVEL", "warn")

	p := writeFile(t, "dehusk.yaml", "depth: 1\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Depth)
	assert.True(t, cfg.Silent)
	assert.Equal(t, []string{"/a", "/b"}, cfg.AllowedRoots)
	assert.Equal(t, 9, cfg.Watch.Concurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"removal", "removal: shred\n", errInvalidRemoval},
		{"level", "logging:\n  level: chatty\n", errInvalidLevel},
		{"relative root", "allowed_roots: [data]\n", errInvalidPath},
		{"relative watch path", "watch:\n  paths: [./x]\n", errInvalidPath},
		{"bad pattern", "watch:\n  excludes: [\"[\"]\n", errInvalidPattern},
		{"negative rate", "watch:\n  rate_per_second: -1\n", errNegativeRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	t.Setenv("EDEHUSKDIR_LOCK", "")
	os.Unsetenv("EDEHUSKDIR_LOCK")
	p := writeFile(t, ".env", "EDEHUSKDIR_LOCK=true\n")
	require.NoError(t, LoadEnvFile(p))
	t.Cleanup(func() { os.Unsetenv("EDEHUSKDIR_LOCK") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Lock)
}
