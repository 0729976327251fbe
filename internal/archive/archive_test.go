package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	link string
	hard string
	dir  bool
	fifo bool
}

var release = []entry{
	{name: "pkg-1.0/", dir: true},
	{name: "pkg-1.0/README", body: "hello\n"},
	{name: "pkg-1.0/src/main.c", body: "int main(void) { return 0; }\n"},
	{name: "pkg-1.0/latest", link: "README"},
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		case e.link != "":
			hdr.Typeflag, hdr.Linkname, hdr.Size = tar.TypeSymlink, e.link, 0
		case e.hard != "":
			hdr.Typeflag, hdr.Linkname, hdr.Size = tar.TypeLink, e.hard, 0
		case e.fifo:
			hdr.Typeflag, hdr.Size = tar.TypeFifo, 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := io.WriteString(tw, e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, name string, entries []entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	raw := tarBytes(t, entries)

	var buf bytes.Buffer
	switch fromExtension(name) {
	case FormatTar:
		buf.Write(raw)
	case FormatTarGzip:
		gw := gzip.NewWriter(&buf)
		_, err := gw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, gw.Close())
	case FormatTarZstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case FormatZip:
		zw := zip.NewWriter(&buf)
		for _, e := range entries {
			if e.link != "" {
				hdr := &zip.FileHeader{Name: e.name, Method: zip.Store}
				hdr.SetMode(fs.ModeSymlink | 0o777)
				w, err := zw.CreateHeader(hdr)
				require.NoError(t, err)
				_, err = io.WriteString(w, e.link)
				require.NoError(t, err)
				continue
			}
			w, err := zw.Create(e.name)
			require.NoError(t, err)
			_, err = io.WriteString(w, e.body)
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
	default:
		buf.Write(raw)
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"release.tar", FormatTar},
		{"release.tar.gz", FormatTarGzip},
		{"release.tgz", FormatTarGzip},
		{"release.tar.zst", FormatTarZstd},
		{"release.zip", FormatZip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(writeArchive(t, tt.name, release))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_ContentWinsOverExtension(t *testing.T) {
	src := writeArchive(t, "release.tar.gz", release)
	renamed := filepath.Join(t.TempDir(), "download.bin")
	require.NoError(t, os.Rename(src, renamed))

	got, err := Detect(renamed)
	require.NoError(t, err)
	assert.Equal(t, FormatTarGzip, got)
}

func TestDetect_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text\n"), 0o644))

	_, err := Detect(path)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExtract(t *testing.T) {
	for _, name := range []string{"release.tar", "release.tar.gz", "release.tar.zst", "release.zip"} {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out")
			stats, err := Extract(context.Background(), writeArchive(t, name, release), dest)
			require.NoError(t, err)

			data, err := os.ReadFile(filepath.Join(dest, "pkg-1.0", "README"))
			require.NoError(t, err)
			assert.Equal(t, "hello\n", string(data))
			assert.FileExists(t, filepath.Join(dest, "pkg-1.0", "src", "main.c"))
			assert.Equal(t, int64(2), stats.Files)
			assert.Equal(t, int64(len("hello\n")+len("int main(void) { return 0; }\n")), stats.Bytes)

			link, err := os.Readlink(filepath.Join(dest, "pkg-1.0", "latest"))
			require.NoError(t, err)
			assert.Equal(t, "README", link)
			assert.Equal(t, int64(1), stats.Links)
		})
	}
}

func TestExtract_RejectsEscapes(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
	}{
		{"parent traversal", []entry{{name: "../evil", body: "x"}}},
		{"nested traversal", []entry{{name: "pkg/../../evil", body: "x"}}},
		{"absolute name", []entry{{name: "/tmp/evil", body: "x"}}},
		{"absolute symlink", []entry{{name: "etc", link: "/etc"}}},
		{"escaping symlink", []entry{{name: "up", link: "../.."}}},
		{"climb after a name", []entry{{name: "a", link: "."}, {name: "b", link: "a/.."}}},
		{"hard link out of dest", []entry{{name: "x", hard: "../evil"}}},
		{"hard link to a directory", []entry{{name: "d/", dir: true}, {name: "x", hard: "d"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")
			_, err := Extract(context.Background(), writeArchive(t, "evil.tar", tt.entries), dest)
			assert.ErrorIs(t, err, ErrUnsafeEntry)
			assert.NoFileExists(t, filepath.Join(parent, "evil"))
		})
	}
}

// a -> "." makes a/b land at dest/b, and a/b -> ".." passes a purely textual
// check. Following b/ would then write beside dest.
func TestExtract_RejectsSymlinkChains(t *testing.T) {
	chain := []entry{
		{name: "a", link: "."},
		{name: "a/b", link: ".."},
		{name: "b/pwned", body: "x"},
	}
	for _, name := range []string{"chain.tar", "chain.zip"} {
		t.Run(name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")
			_, err := Extract(context.Background(), writeArchive(t, name, chain), dest)
			assert.ErrorIs(t, err, ErrUnsafeEntry)
			assert.NoFileExists(t, filepath.Join(parent, "pwned"))
			assert.NoFileExists(t, filepath.Join(dest, "b"))
		})
	}
}

func TestExtract_WritesThroughRealDirsOnly(t *testing.T) {
	entries := []entry{
		{name: "pkg/", dir: true},
		{name: "alias", link: "pkg"},
		{name: "alias/file", body: "x"},
	}
	dest := filepath.Join(t.TempDir(), "out")
	_, err := Extract(context.Background(), writeArchive(t, "alias.tar", entries), dest)
	assert.ErrorIs(t, err, ErrUnsafeEntry)
	assert.NoFileExists(t, filepath.Join(dest, "pkg", "file"))
}

func TestExtract_HardLinks(t *testing.T) {
	entries := []entry{
		{name: "pkg/", dir: true},
		{name: "pkg/bin/tool", body: "#!/bin/sh\n"},
		{name: "pkg/bin/tool-alias", hard: "pkg/bin/tool"},
	}
	dest := filepath.Join(t.TempDir(), "out")
	stats, err := Extract(context.Background(), writeArchive(t, "links.tar", entries), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Files)

	orig, err := os.Stat(filepath.Join(dest, "pkg", "bin", "tool"))
	require.NoError(t, err)
	alias, err := os.Stat(filepath.Join(dest, "pkg", "bin", "tool-alias"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(orig, alias))
}

func TestExtract_HardLinkToMissingFile(t *testing.T) {
	entries := []entry{{name: "alias", hard: "nowhere"}}
	_, err := Extract(context.Background(), writeArchive(t, "links.tar", entries), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestExtract_CountsSkippedEntries(t *testing.T) {
	entries := []entry{
		{name: "pkg/", dir: true},
		{name: "pkg/pipe", fifo: true},
		{name: "pkg/README", body: "hi\n"},
	}
	dest := filepath.Join(t.TempDir(), "out")
	stats, err := Extract(context.Background(), writeArchive(t, "special.tar", entries), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(1), stats.Files)
	assert.NoFileExists(t, filepath.Join(dest, "pkg", "pipe"))
}

func TestExtract_DestNotEmpty(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "existing"), nil, 0o644))

	_, err := Extract(context.Background(), writeArchive(t, "release.tar", release), dest)
	assert.ErrorIs(t, err, ErrDestNotEmpty)
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, writeArchive(t, "release.tar", release), filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, context.Canceled)
}
