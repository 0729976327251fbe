package dehusk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// lock creates the advisory lock file for outer and returns the function
// that removes it. The file records the owning pid so a stale lock can be
// traced back by hand.
func (d *Dehusker) lock(outer string) (func() error, error) {
	path := LockPath(outer)
	data := fmt.Sprintf("pid=%d\ntarget=%s\n", os.Getpid(), outer)
	if err := d.fs.CreateExclusive(path, []byte(data)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			err = fmt.Errorf("lock %s already held: %w", path, err)
		}
		return nil, &Error{Kind: ErrLocked, Phase: PhaseValidate, Path: outer, Err: err}
	}
	return func() error {
		if err := d.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("release lock %s: %w", path, err)
		}
		return nil
	}, nil
}

// Unlock removes a lock file left behind by a process that died while
// holding it. A missing lock is not an error.
func (d *Dehusker) Unlock(path string) error {
	outer, err := absTarget(path)
	if err != nil {
		return err
	}
	if err := d.fs.Remove(LockPath(outer)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: ErrUnlock, Phase: PhaseUnlock, Path: outer, Err: err}
	}
	return nil
}
