// Package archive unpacks downloaded archives so the result can be dehusked.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Format is a supported archive container
type Format string

const (
	FormatUnknown Format = ""
	FormatTar     Format = "tar"
	FormatTarGzip Format = "tar.gz"
	FormatTarZstd Format = "tar.zst"
	FormatZip     Format = "zip"
)

var (
	ErrUnsupported  = errors.New("unsupported archive format")
	ErrUnsafeEntry  = errors.New("archive entry escapes destination")
	ErrDestNotEmpty = errors.New("destination is not empty")
)

// Stats counts what Extract wrote. Skipped counts devices, fifos and other
// special entries that are never unpacked.
type Stats struct {
	Files   int64
	Dirs    int64
	Links   int64
	Bytes   int64
	Skipped int64
}

// Detect sniffs the archive format from content, falling back to the
// file extension when the content is not recognized.
func Detect(path string) (Format, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return FormatUnknown, err
	}

	switch {
	case is(mtype, "application/zip"):
		return FormatZip, nil
	case is(mtype, "application/gzip"):
		return FormatTarGzip, nil
	case is(mtype, "application/zstd"):
		return FormatTarZstd, nil
	case is(mtype, "application/x-tar"):
		return FormatTar, nil
	}

	if f := fromExtension(path); f != FormatUnknown {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s (%s)", ErrUnsupported, filepath.Base(path), mtype.String())
}

// is reports whether m or one of its parents is want. Zip based formats
// such as jar or docx are children of application/zip.
func is(m *mimetype.MIME, want string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func fromExtension(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGzip
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZstd
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	}
	return FormatUnknown
}

// Extract unpacks archivePath into dest, creating dest if needed. dest must
// be missing or empty. Entries that would land outside dest are rejected.
func Extract(ctx context.Context, archivePath, dest string) (Stats, error) {
	var stats Stats

	format, err := Detect(archivePath)
	if err != nil {
		return stats, err
	}

	dest, err = filepath.Abs(dest)
	if err != nil {
		return stats, err
	}
	if err := prepareDest(dest); err != nil {
		return stats, err
	}

	if format == FormatZip {
		err = extractZip(ctx, archivePath, dest, &stats)
	} else {
		err = extractTarFile(ctx, archivePath, format, dest, &stats)
	}
	if err != nil {
		return stats, fmt.Errorf("extract %s: %w", archivePath, err)
	}
	return stats, nil
}

func prepareDest(dest string) error {
	entries, err := os.ReadDir(dest)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(dest, 0o755)
	case err != nil:
		return err
	case len(entries) > 0:
		return fmt.Errorf("%w: %s", ErrDestNotEmpty, dest)
	}
	return nil
}

func extractTarFile(ctx context.Context, archivePath string, format Format, dest string, stats *Stats) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	switch format {
	case FormatTarGzip:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gzReader.Close()
		r = gzReader
	case FormatTarZstd:
		zstdReader, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer zstdReader.Close()
		r = zstdReader
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}

		mode := fs.FileMode(header.Mode).Perm()
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return err
			}
			stats.Dirs++
		case tar.TypeReg:
			n, err := writeFile(target, tr, mode)
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, header.Linkname); err != nil {
				return err
			}
			stats.Links++
		case tar.TypeLink:
			if err := writeHardLink(dest, target, header.Linkname); err != nil {
				return err
			}
			stats.Files++
		default:
			stats.Skipped++
		}
	}
}

func extractZip(ctx context.Context, archivePath, dest string, stats *Stats) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return err
			}
			stats.Dirs++
		case mode&fs.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(dest, target, string(link)); err != nil {
				return err
			}
			stats.Links++
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return err
			}
			n, err := writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
		default:
			stats.Skipped++
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// writeSymlink creates target -> link, refusing links that resolve outside
// dest. ".." is only accepted as a leading prefix so the climb happens over
// real directories and never through another link.
func writeSymlink(dest, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafeEntry, target, link)
	}
	dir := filepath.Dir(target)
	climbing := true
	for _, part := range strings.Split(filepath.FromSlash(link), string(os.PathSeparator)) {
		switch part {
		case "", ".":
		case "..":
			dir = filepath.Dir(dir)
			if !climbing || !within(dest, dir) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafeEntry, target, link)
			}
		default:
			climbing = false
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

// writeHardLink links target to an already unpacked regular file. name is
// the archive path of that file.
func writeHardLink(dest, target, name string) error {
	source, err := safeJoin(dest, name)
	if err != nil {
		return err
	}
	info, err := os.Lstat(source)
	if err != nil {
		return fmt.Errorf("hard link %s -> %s: %w", target, name, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: hard link %s -> %s is not a regular file", ErrUnsafeEntry, target, name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Link(source, target)
}

// safeJoin joins an archive entry name onto dest, rejecting absolute names,
// names that climb out of dest and names whose parent directories include a
// symlink unpacked earlier.
func safeJoin(dest, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	target := filepath.Join(dest, name)
	if !within(dest, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	if target == dest {
		return target, nil
	}
	if err := checkParents(dest, target); err != nil {
		return "", err
	}
	return target, nil
}

// checkParents walks the existing directories between dest and target and
// fails if any of them is a symlink.
func checkParents(dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	dir := dest
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafeEntry, target, dir)
		}
	}
	return nil
}

func within(dest, path string) bool {
	return path == dest || strings.HasPrefix(path, dest+string(os.PathSeparator))
}
