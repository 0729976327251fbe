package disk

import (
	"io/fs"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
)

// PathStats contains detailed statistics about a directory tree
type PathStats struct {
	UsedBytes int64 // Total bytes used by regular files in this path
	FileCount int64 // Total number of regular files
	DirCount  int64 // Directories below the root (root excluded)
}

// ScanPath walks a directory tree concurrently and totals regular files
// and directories. Unreadable entries are skipped. Symlinks are counted as
// neither and never followed.
func ScanPath(path string) (*PathStats, error) {
	path = filepath.Clean(path)
	var used, files, dirs atomic.Int64

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if p == path {
			return nil
		}
		switch {
		case d.IsDir():
			dirs.Add(1)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return nil
			}
			used.Add(info.Size())
			files.Add(1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PathStats{
		UsedBytes: used.Load(),
		FileCount: files.Load(),
		DirCount:  dirs.Load(),
	}, nil
}
