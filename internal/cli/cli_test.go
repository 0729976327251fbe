package cli

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dehusk/internal/database"
	"dehusk/internal/dehusk"
	"dehusk/internal/exitcodes"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// wrapped creates dir/a/b/payload.txt and returns dir
func wrapped(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "release")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "payload.txt"), []byte("seed"), 0o644))
	return dir
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNoDirectory(t *testing.T) {
	code, stdout, stderr := execute(t)
	assert.Equal(t, exitcodes.InvalidConfig, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "error: no directory given")
}

func TestNoDirectory_Silent(t *testing.T) {
	code, stdout, stderr := execute(t, "--silent")
	assert.Equal(t, exitcodes.InvalidConfig, code)
	assert.Equal(t, "-1\n", stdout)
	assert.NotContains(t, stderr, "error:")
}

func TestDehusk(t *testing.T) {
	dir := wrapped(t)

	code, stdout, _ := execute(t, dir)
	require.Equal(t, exitcodes.Success, code)
	assert.Equal(t, dir+"\n", stdout)
	assert.FileExists(t, filepath.Join(dir, "payload.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "a"))
}

func TestDehusk_Depth(t *testing.T) {
	for _, args := range [][]string{{"-d", "1"}, {"--depth", "1"}, {"--depth=1"}} {
		t.Run(args[0], func(t *testing.T) {
			dir := wrapped(t)
			code, _, _ := execute(t, append(args, dir)...)
			require.Equal(t, exitcodes.Success, code)
			assert.FileExists(t, filepath.Join(dir, "b", "payload.txt"))
		})
	}
}

func TestDehusk_DepthFromEnvironment(t *testing.T) {
	t.Setenv("EDEHUSKDIR_DEPTH", "1")
	dir := wrapped(t)

	code, _, _ := execute(t, dir)
	require.Equal(t, exitcodes.Success, code)
	assert.FileExists(t, filepath.Join(dir, "b", "payload.txt"))

	// an explicit flag wins
	dir = wrapped(t)
	code, _, _ = execute(t, "-d", "-1", dir)
	require.Equal(t, exitcodes.Success, code)
	assert.FileExists(t, filepath.Join(dir, "payload.txt"))
}

func TestDehusk_DryRun(t *testing.T) {
	dir := wrapped(t)

	code, stdout, _ := execute(t, "--dry-run", dir)
	require.Equal(t, exitcodes.Success, code)
	assert.Equal(t, fmt.Sprintf("%s -> %s\n", filepath.Join(dir, "a", "b"), dir), stdout)
	assert.FileExists(t, filepath.Join(dir, "a", "b", "payload.txt"))
}

func TestDehusk_StopsAtFirstFailure(t *testing.T) {
	first, third := wrapped(t), wrapped(t)
	missing := filepath.Join(t.TempDir(), "missing")

	code, stdout, stderr := execute(t, first, missing, third)
	assert.Equal(t, exitcodes.Failure, code)
	assert.Equal(t, first+"\n", stdout)
	assert.Contains(t, stderr, "error: ")
	assert.FileExists(t, filepath.Join(first, "payload.txt"))
	assert.FileExists(t, filepath.Join(third, "a", "b", "payload.txt"))
}

func TestDehusk_FailureSilent(t *testing.T) {
	code, stdout, _ := execute(t, "--silent", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, exitcodes.Failure, code)
	assert.Equal(t, "-1\n", stdout)
}

func TestDehusk_ProtectedPath(t *testing.T) {
	code, _, stderr := execute(t, "/etc")
	assert.Equal(t, exitcodes.SafetyViolation, code)
	assert.Contains(t, stderr, "protected path")
}

func TestDehusk_LockHeld(t *testing.T) {
	dir := wrapped(t)
	require.NoError(t, os.WriteFile(dehusk.LockPath(dir), []byte("pid=1\n"), 0o644))

	code, _, _ := execute(t, "--lock", dir)
	assert.Equal(t, exitcodes.LockHeld, code)
	assert.FileExists(t, filepath.Join(dir, "a", "b", "payload.txt"))
}

func TestDehusk_RecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfg := writeConfig(t, fmt.Sprintf("database_path: %s\nlogging:\n  level: warn\n", dbPath))
	dir := wrapped(t)

	code, _, _ := execute(t, "--config", cfg, dir)
	require.Equal(t, exitcodes.Success, code)

	db, err := database.NewHistoryDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, database.StatusCollapsed, records[0].Status)
	assert.Equal(t, "cli", records[0].Source)
	assert.Equal(t, dir, records[0].Path)
	assert.Equal(t, 2, records[0].Levels)
	assert.Equal(t, int64(1), records[0].Files)
}

func TestBadConfig(t *testing.T) {
	cfg := writeConfig(t, "removal: sideways\n")
	code, _, stderr := execute(t, "--config", cfg, wrapped(t))
	assert.Equal(t, exitcodes.InvalidConfig, code)
	assert.Contains(t, stderr, "removal")
}

func TestUnknownFlag(t *testing.T) {
	code, _, _ := execute(t, "--no-such-flag", wrapped(t))
	assert.Equal(t, exitcodes.InvalidConfig, code)
}

func TestRecover(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "release")
	temp := filepath.Join(parent, "release.dehusk-0000")
	require.NoError(t, os.MkdirAll(temp, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "payload.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(dehusk.LockPath(dir), []byte("pid=1\n"), 0o644))

	code, stdout, _ := execute(t, "recover", "--unlock", dir)
	require.Equal(t, exitcodes.Success, code)
	assert.Equal(t, "reattached\t"+dir+"\nunlocked\t"+dir+"\n", stdout)
	assert.FileExists(t, filepath.Join(dir, "payload.txt"))
	assert.NoDirExists(t, temp)
	assert.NoFileExists(t, dehusk.LockPath(dir))
}

func TestRecover_NothingToDo(t *testing.T) {
	dir := wrapped(t)
	code, stdout, _ := execute(t, "recover", dir)
	require.Equal(t, exitcodes.Success, code)
	assert.Equal(t, "none\t"+dir+"\n", stdout)
}

func TestRecover_RequiresDir(t *testing.T) {
	code, _, _ := execute(t, "recover")
	assert.Equal(t, exitcodes.InvalidConfig, code)
}

func TestExtract(t *testing.T) {
	var raw bytes.Buffer
	gw := gzip.NewWriter(&raw)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pkg-2.1/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pkg-2.1/README", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2}))
	_, err := tw.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	src := filepath.Join(t.TempDir(), "pkg-2.1.tar.gz")
	require.NoError(t, os.WriteFile(src, raw.Bytes(), 0o644))
	dest := filepath.Join(t.TempDir(), "pkg")

	code, stdout, _ := execute(t, "extract", src, dest)
	require.Equal(t, exitcodes.Success, code)
	assert.Equal(t, dest+"\n", stdout)
	assert.FileExists(t, filepath.Join(dest, "README"))
	assert.NoDirExists(t, filepath.Join(dest, "pkg-2.1"))
}

func TestExtract_Args(t *testing.T) {
	code, _, _ := execute(t, "extract", "only-one")
	assert.Equal(t, exitcodes.InvalidConfig, code)
}

func TestWatchOnce(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "incoming")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inner", "f"), nil, 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "inner"), old, old))
	require.NoError(t, os.Chtimes(dir, old, old))

	cfg := writeConfig(t, fmt.Sprintf("watch:\n  paths: [%s]\n  settle_seconds: 60\n", root))
	code, _, _ := execute(t, "watch", "--once", "--config", cfg)
	require.Equal(t, exitcodes.Success, code)
	assert.FileExists(t, filepath.Join(dir, "f"))
	assert.NoFileExists(t, dehusk.LockPath(dir))
}

func TestWatch_NoPaths(t *testing.T) {
	code, _, stderr := execute(t, "watch", "--once")
	assert.Equal(t, exitcodes.InvalidConfig, code)
	assert.Contains(t, stderr, "no watch paths")
}
