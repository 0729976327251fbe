// Package scan finds directories under watch roots that are ready to be
// dehusked: real directories, not excluded, and untouched for the settle
// period.
package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"dehusk/internal/config"
	"dehusk/internal/disk"
)

// Skip reasons
const (
	SkipExcluded = "excluded"
	SkipSettling = "settling"
	SkipNotDir   = "not_directory"
	SkipInternal = "internal"
)

// maxChainDepth bounds how far the settle check follows a wrapper chain.
const maxChainDepth = 64

type Candidate struct {
	Root    string
	Path    string
	ModTime time.Time // newest mtime along the wrapper chain
}

type Skip struct {
	Path   string
	Reason string
}

type RootResult struct {
	Root       string
	Candidates []Candidate
	Skipped    []Skip
	Stale      bool // root is on an unresponsive NFS mount
	Err        error
}

var errNoRoots = errors.New("no watch paths configured")

// Scanner lists dehusk candidates below watch roots
type Scanner struct {
	settle     time.Duration
	excludes   []string
	nfsTimeout time.Duration
	logger     *zap.SugaredLogger
}

// NewScanner creates a Scanner from the watch section of cfg
func NewScanner(cfg *config.Config, logger *zap.SugaredLogger) *Scanner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scanner{
		settle:     cfg.Settle(),
		excludes:   cfg.Watch.Excludes,
		nfsTimeout: cfg.NFSTimeoutDuration(),
		logger:     logger,
	}
}

// Scan scans every root and returns all candidates, oldest first, along
// with the per-root results.
func (s *Scanner) Scan(roots []string, now time.Time) ([]Candidate, []RootResult, error) {
	if len(roots) == 0 {
		return nil, nil, errNoRoots
	}

	results := make([]RootResult, 0, len(roots))
	var all []Candidate
	for _, root := range roots {
		res := s.ScanRoot(root, now)
		if res.Err != nil {
			s.logger.Warnw("failed to scan watch root", "root", root, "error", res.Err)
		}
		results = append(results, res)
		all = append(all, res.Candidates...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ModTime.Before(all[j].ModTime)
	})
	return all, results, nil
}

// ScanRoot lists the settled child directories of root.
func (s *Scanner) ScanRoot(root string, now time.Time) RootResult {
	res := RootResult{Root: root}

	if s.nfsTimeout > 0 && disk.IsNFSStale(root, s.nfsTimeout) {
		res.Stale = true
		res.Err = fmt.Errorf("watch root %s did not respond within %s", root, s.nfsTimeout)
		return res
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		res.Err = err
		return res
	}

	for _, e := range entries {
		path := filepath.Join(root, e.Name())

		switch {
		case isInternal(e.Name()):
			res.Skipped = append(res.Skipped, Skip{path, SkipInternal})
			continue
		case !e.IsDir():
			res.Skipped = append(res.Skipped, Skip{path, SkipNotDir})
			continue
		case s.excluded(path):
			res.Skipped = append(res.Skipped, Skip{path, SkipExcluded})
			continue
		}

		mtime, err := newestChainMTime(path)
		if err != nil {
			s.logger.Debugw("skipping unreadable candidate", "path", path, "error", err)
			continue
		}
		if now.Sub(mtime) < s.settle {
			res.Skipped = append(res.Skipped, Skip{path, SkipSettling})
			continue
		}
		res.Candidates = append(res.Candidates, Candidate{Root: root, Path: path, ModTime: mtime})
	}

	return res
}

func (s *Scanner) excluded(path string) bool {
	p := filepath.ToSlash(path)
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(p)); ok {
			return true
		}
	}
	return false
}

// isInternal reports names the dehusker itself creates next to a target
func isInternal(name string) bool {
	return strings.Contains(name, ".dehusk-") || strings.HasSuffix(name, ".dehusk.lock")
}

// newestChainMTime returns the newest mtime of dir and of every directory
// in its single-directory chain. Writes into a wrapper being extracted show
// up on the innermost directory, not on the top one.
func newestChainMTime(dir string) (time.Time, error) {
	info, err := os.Lstat(dir)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()

	cur := dir
	for i := 0; i < maxChainDepth; i++ {
		entries, err := os.ReadDir(cur)
		if err != nil {
			return time.Time{}, err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			break
		}
		cur = filepath.Join(cur, entries[0].Name())
		info, err := os.Lstat(cur)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}
