// Package dehusk removes the wrapper directories archives tend to carry.
//
// Given an outer directory it descends while each directory holds exactly
// one entry that is itself a directory, stops at the first directory with
// real content (the seed), and moves the seed onto the outer path:
//
//	rename seed -> temp     (detach)
//	remove wrapper chain    (discard)
//	rename temp -> outer    (reattach)
//
// Once the detach rename succeeded the payload is never deleted; a crash
// afterwards leaves it in a sibling named "<outer>.dehusk-<token>" which
// Recover moves back.
//
// Two calls on the same or overlapping targets must not run concurrently
// unless Options.Lock is set.
package dehusk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dehusk/internal/fsops"
)

// Unbounded is the depth that keeps descending until a natural stop.
const Unbounded = -1

const (
	tempInfix       = ".dehusk-"
	lockSuffix      = ".dehusk.lock"
	maxTempAttempts = 8
)

// RemovalMode selects how the emptied wrapper chain is discarded.
type RemovalMode string

const (
	// RemoveStrict removes each wrapper with a single-directory remove,
	// innermost first. Anything unexpected inside a wrapper makes the
	// discard fail instead of being deleted.
	RemoveStrict RemovalMode = "strict"

	// RemoveRecursive removes the outer tree wholesale.
	RemoveRecursive RemovalMode = "recursive"
)

// Validator authorizes a target before anything below it is read.
type Validator interface {
	ValidateTarget(path string) error
}

type Options struct {
	// Lock takes an exclusive "<outer>.dehusk.lock" file for the duration
	// of the call.
	Lock bool

	Removal   RemovalMode
	Validator Validator
}

// Result describes a finished call.
type Result struct {
	// Path is the target as the caller passed it. After a collapse it holds
	// what used to be at Seed.
	Path string

	// Seed is the absolute location of the seed before the swap. Equal to
	// the absolute Path when nothing was collapsed.
	Seed string

	// Levels is the number of wrapper directories removed.
	Levels int
}

// Collapsed reports whether the call moved anything.
func (r Result) Collapsed() bool {
	return r.Levels > 0
}

// Dehusker runs the algorithm against a host filesystem.
type Dehusker struct {
	fs    fsops.FS
	opts  Options
	token func() string
}

// New returns a Dehusker over fsys. A nil fsys means the host filesystem.
func New(fsys fsops.FS, opts Options) *Dehusker {
	if fsys == nil {
		fsys = fsops.Default
	}
	if opts.Removal == "" {
		opts.Removal = RemoveStrict
	}
	return &Dehusker{fs: fsys, opts: opts, token: uuid.NewString}
}

var std = New(nil, Options{})

// Dehusk collapses path on the host filesystem with default options and
// returns the path now holding the seed's contents.
func Dehusk(path string, depth int) (string, error) {
	return std.Dehusk(path, depth)
}

// DehuskContext is Dehusk with cancellation before the swap starts.
func DehuskContext(ctx context.Context, path string, depth int) (string, error) {
	res, err := std.Run(ctx, path, depth)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Dehusk collapses path and returns the path now holding the seed's
// contents, which is path itself.
func (d *Dehusker) Dehusk(path string, depth int) (string, error) {
	res, err := d.Run(context.Background(), path, depth)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Run collapses path on the calling goroutine. ctx is checked before each
// listing and before the detach rename; once the payload has been detached
// the swap runs to completion regardless of ctx.
func (d *Dehusker) Run(ctx context.Context, path string, depth int) (res Result, err error) {
	res = Result{Path: path}

	outer, err := d.checkOuter(path)
	if err != nil {
		return res, err
	}
	res.Seed = outer

	if d.opts.Lock {
		release, lerr := d.lock(outer)
		if lerr != nil {
			return res, lerr
		}
		defer func() {
			if rerr := release(); rerr != nil && err == nil {
				err = &Error{Kind: ErrUnlock, Phase: PhaseUnlock, Path: outer, Err: rerr}
			}
		}()
	}

	seed, chain, err := d.findSeed(ctx, outer, depth)
	if err != nil {
		return res, err
	}
	res.Seed = seed
	if len(chain) == 0 {
		return res, nil
	}

	if err := d.swap(ctx, outer, seed, chain); err != nil {
		return res, err
	}
	res.Levels = len(chain)
	return res, nil
}

// FindSeed runs only the read-only traversal and reports what Run would do.
func (d *Dehusker) FindSeed(ctx context.Context, path string, depth int) (Result, error) {
	res := Result{Path: path}
	outer, err := d.checkOuter(path)
	if err != nil {
		return res, err
	}
	seed, chain, err := d.findSeed(ctx, outer, depth)
	if err != nil {
		return res, err
	}
	res.Seed = seed
	res.Levels = len(chain)
	return res, nil
}

func (d *Dehusker) checkOuter(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: path, Err: fs.ErrInvalid}
	}
	if d.opts.Validator != nil {
		if err := d.opts.Validator.ValidateTarget(path); err != nil {
			return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: path, Err: err}
		}
	}
	abs, err := absTarget(path)
	if err != nil {
		return "", err
	}
	info, err := d.fs.Lstat(abs)
	if err != nil {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: abs, Err: err}
	}
	if !info.IsDir() {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: abs, Err: ErrNotDirectory}
	}
	return abs, nil
}

// findSeed descends from outer while the current directory holds a single
// directory entry. It returns the seed and the wrapper directories passed
// on the way, outermost first. Symlinks are never followed: a lone symlink
// is content, not a wrapper.
func (d *Dehusker) findSeed(ctx context.Context, outer string, depth int) (string, []string, error) {
	seed := outer
	var chain []string

	for remaining := depth; remaining != 0; {
		if err := ctx.Err(); err != nil {
			return outer, nil, &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: seed, Err: err}
		}
		entries, err := d.fs.ReadDir(seed)
		if err != nil {
			return outer, nil, &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: seed, Err: err}
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			break
		}
		chain = append(chain, seed)
		seed = filepath.Join(seed, entries[0].Name())
		if remaining > 0 {
			remaining--
		}
	}

	return seed, chain, nil
}

func (d *Dehusker) swap(ctx context.Context, outer, seed string, chain []string) error {
	// Cancelled before anything was written: report it like a cancelled
	// traversal.
	if err := ctx.Err(); err != nil {
		return &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: outer, Err: err}
	}

	tmp, err := d.reserveTemp(outer)
	if err != nil {
		return &Error{Kind: ErrSwap, Phase: PhaseDetach, Path: outer, Err: err}
	}

	same, err := d.fs.SameDevice(seed, tmp)
	if err == nil && !same {
		err = ErrCrossDevice
	}
	if err != nil {
		return d.abandon(outer, tmp, err)
	}

	if err := d.fs.Rename(seed, tmp); err != nil {
		if fsops.IsCrossDevice(err) {
			err = fmt.Errorf("%w: %w", ErrCrossDevice, err)
		}
		return d.abandon(outer, tmp, err)
	}

	// From here on the payload lives only at tmp.
	if err := d.discard(outer, chain); err != nil {
		return &Error{Kind: ErrSwap, Phase: PhaseDiscard, Path: outer, Temp: tmp, Err: err}
	}
	if err := d.fs.Rename(tmp, outer); err != nil {
		return &Error{Kind: ErrSwap, Phase: PhaseReattach, Path: outer, Temp: tmp, Err: err}
	}
	return nil
}

// reserveTemp creates an empty sibling directory of outer with a random
// suffix. The detach rename replaces it, so creating it exclusively is what
// guarantees the name belongs to this call.
func (d *Dehusker) reserveTemp(outer string) (string, error) {
	var err error
	for i := 0; i < maxTempAttempts; i++ {
		tmp := TempPrefix(outer) + d.token()
		if err = d.fs.Mkdir(tmp, 0o700); err == nil {
			return tmp, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("reserve temporary path after %d attempts: %w", maxTempAttempts, err)
}

// abandon drops the empty placeholder after a failed detach.
func (d *Dehusker) abandon(outer, tmp string, cause error) error {
	err := cause
	if rmErr := d.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(cause, fmt.Errorf("remove placeholder %s: %w", tmp, rmErr))
	}
	return &Error{Kind: ErrSwap, Phase: PhaseDetach, Path: outer, Err: err}
}

func (d *Dehusker) discard(outer string, chain []string) error {
	if d.opts.Removal == RemoveRecursive {
		return d.fs.RemoveAll(outer)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if err := d.fs.Remove(chain[i]); err != nil {
			return fmt.Errorf("remove wrapper %s: %w", chain[i], err)
		}
	}
	return nil
}

// TempPrefix returns the prefix shared by all temporary swap paths of outer.
func TempPrefix(outer string) string {
	return filepath.Clean(outer) + tempInfix
}

// LockPath returns the advisory lock file used for outer.
func LockPath(outer string) string {
	return filepath.Clean(outer) + lockSuffix
}
