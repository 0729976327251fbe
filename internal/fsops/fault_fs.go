package fsops

import (
	"errors"
	"io/fs"
	"sync"
)

// Op names a primitive of FS, used for call recording and fault injection.
type Op string

const (
	OpLstat     Op = "lstat"
	OpReadDir   Op = "readdir"
	OpMkdir     Op = "mkdir"
	OpRename    Op = "rename"
	OpRemove    Op = "rm"
	OpRemoveAll Op = "rmall"
	OpCreate    Op = "create"
	OpSameDev   Op = "samedev"
)

// FaultFS wraps another FS, records every call and can fail the n-th call
// of a given primitive. Once a fault fires, FaultFS behaves like a crashed
// process if Halt is set: every later call fails too.
type FaultFS struct {
	Inner FS
	Halt  bool

	mu     sync.Mutex
	calls  []string
	counts map[Op]int
	faults map[Op]fault
	halted bool
}

type fault struct {
	nth int
	err error
}

// ErrInjected is returned by calls failed through FailAt with a nil error.
var ErrInjected = errors.New("injected fault")

// NewFaultFS wraps inner. A nil inner wraps the host filesystem.
func NewFaultFS(inner FS) *FaultFS {
	if inner == nil {
		inner = Default
	}
	return &FaultFS{
		Inner:  inner,
		counts: make(map[Op]int),
		faults: make(map[Op]fault),
	}
}

// FailAt makes the nth (1-based) call of op return err without touching
// the inner filesystem.
func (f *FaultFS) FailAt(op Op, nth int, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = fault{nth: nth, err: err}
}

// Calls returns the recorded calls in order, formatted "op:path" or
// "op:old->new".
func (f *FaultFS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many times op was called.
func (f *FaultFS) Count(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

func (f *FaultFS) record(op Op, desc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(op)+":"+desc)
	f.counts[op]++
	if f.halted {
		return ErrInjected
	}
	if ft, ok := f.faults[op]; ok && ft.nth == f.counts[op] {
		if f.Halt {
			f.halted = true
		}
		return ft.err
	}
	return nil
}

func (f *FaultFS) Lstat(path string) (fs.FileInfo, error) {
	if err := f.record(OpLstat, path); err != nil {
		return nil, err
	}
	return f.Inner.Lstat(path)
}

func (f *FaultFS) ReadDir(path string) ([]fs.DirEntry, error) {
	if err := f.record(OpReadDir, path); err != nil {
		return nil, err
	}
	return f.Inner.ReadDir(path)
}

func (f *FaultFS) Mkdir(path string, perm fs.FileMode) error {
	if err := f.record(OpMkdir, path); err != nil {
		return err
	}
	return f.Inner.Mkdir(path, perm)
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if err := f.record(OpRename, oldpath+"->"+newpath); err != nil {
		return err
	}
	return f.Inner.Rename(oldpath, newpath)
}

func (f *FaultFS) Remove(path string) error {
	if err := f.record(OpRemove, path); err != nil {
		return err
	}
	return f.Inner.Remove(path)
}

func (f *FaultFS) RemoveAll(path string) error {
	if err := f.record(OpRemoveAll, path); err != nil {
		return err
	}
	return f.Inner.RemoveAll(path)
}

func (f *FaultFS) CreateExclusive(path string, data []byte) error {
	if err := f.record(OpCreate, path); err != nil {
		return err
	}
	return f.Inner.CreateExclusive(path, data)
}

func (f *FaultFS) SameDevice(a, b string) (bool, error) {
	if err := f.record(OpSameDev, a+"->"+b); err != nil {
		return false, err
	}
	return f.Inner.SameDevice(a, b)
}
