package dehusk

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// maxRecoverDepth bounds the walk over a leftover wrapper chain.
const maxRecoverDepth = 4096

// RecoverAction is what Recover did.
type RecoverAction string

const (
	RecoverNone               RecoverAction = "none"
	RecoverReattached         RecoverAction = "reattached"
	RecoverCompleted          RecoverAction = "completed"
	RecoverPlaceholderRemoved RecoverAction = "placeholder_removed"
)

type RecoverResult struct {
	Path   string
	Temp   string
	Action RecoverAction

	// StaleLock is set when a lock file for Path exists. Recover never
	// removes it; see Unlock.
	StaleLock bool
}

// Recover finishes or rolls back a swap interrupted by a crash or an
// intermediate-state error. It looks for a single "<path>.dehusk-*" sibling:
//
//   - path missing: the temp is renamed onto path.
//   - path is an empty wrapper chain: the chain is removed, then the temp
//     is renamed onto path.
//   - the temp is an empty placeholder: it is removed.
//
// Anything else is reported as ErrRecoveryConflict and left alone.
func (d *Dehusker) Recover(path string) (RecoverResult, error) {
	res := RecoverResult{Path: path, Action: RecoverNone}

	outer, err := absTarget(path)
	if err != nil {
		return res, err
	}
	if _, err := d.fs.Lstat(LockPath(outer)); err == nil {
		res.StaleLock = true
	}

	temps, err := d.TempPaths(outer)
	if err != nil {
		return res, &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: filepath.Dir(outer), Err: err}
	}
	switch len(temps) {
	case 0:
		return res, nil
	case 1:
	default:
		return res, &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: outer,
			Err: fmt.Errorf("%w: %s", ErrAmbiguousRecovery, strings.Join(temps, ", "))}
	}
	tmp := temps[0]
	res.Temp = tmp

	info, err := d.fs.Lstat(outer)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := d.fs.Rename(tmp, outer); err != nil {
			return res, &Error{Kind: ErrSwap, Phase: PhaseReattach, Path: outer, Temp: tmp, Err: err}
		}
		res.Action = RecoverReattached
		return res, nil
	case err != nil:
		return res, &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: outer, Temp: tmp, Err: err}
	}

	if info.IsDir() {
		chain, err := d.emptyChain(outer)
		if err != nil {
			return res, &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: outer, Temp: tmp, Err: err}
		}
		if chain != nil {
			if err := d.discard(outer, chain); err != nil {
				return res, &Error{Kind: ErrSwap, Phase: PhaseDiscard, Path: outer, Temp: tmp, Err: err}
			}
			if err := d.fs.Rename(tmp, outer); err != nil {
				return res, &Error{Kind: ErrSwap, Phase: PhaseReattach, Path: outer, Temp: tmp, Err: err}
			}
			res.Action = RecoverCompleted
			return res, nil
		}
	}

	entries, err := d.fs.ReadDir(tmp)
	if err != nil {
		return res, &Error{Kind: ErrTraversal, Phase: PhaseTraverse, Path: outer, Temp: tmp, Err: err}
	}
	if len(entries) == 0 {
		if err := d.fs.Remove(tmp); err != nil {
			return res, &Error{Kind: ErrSwap, Phase: PhaseDetach, Path: outer, Temp: tmp, Err: err}
		}
		res.Action = RecoverPlaceholderRemoved
		return res, nil
	}

	return res, &Error{Kind: ErrSwap, Phase: PhaseReattach, Path: outer, Temp: tmp, Err: ErrRecoveryConflict}
}

// TempPaths lists the temporary swap directories next to outer.
func (d *Dehusker) TempPaths(outer string) ([]string, error) {
	outer = filepath.Clean(outer)
	entries, err := d.fs.ReadDir(filepath.Dir(outer))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(outer) + tempInfix
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(filepath.Dir(outer), e.Name()))
		}
	}
	return out, nil
}

// emptyChain returns the directories from dir down to an empty leaf when
// every level holds exactly one directory, or nil if the tree has content.
func (d *Dehusker) emptyChain(dir string) ([]string, error) {
	var chain []string
	cur := dir
	for i := 0; i < maxRecoverDepth; i++ {
		entries, err := d.fs.ReadDir(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
		if len(entries) == 0 {
			return chain, nil
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return nil, nil
		}
		cur = filepath.Join(cur, entries[0].Name())
	}
	return nil, nil
}

func absTarget(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: path, Err: fs.ErrInvalid}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: path, Err: err}
	}
	if filepath.Dir(abs) == abs {
		return "", &Error{Kind: ErrInvalidInput, Phase: PhaseValidate, Path: abs, Err: ErrFilesystemRoot}
	}
	return abs, nil
}
