// Package fsops is the host filesystem surface the dehusker is written
// against. Everything that mutates or lists the tree goes through FS so
// tests can record calls and inject failures at any step.
package fsops

import (
	"errors"
	"io/fs"
	"syscall"
)

// Deleter abstracts filesystem delete operations
type Deleter interface {
	Remove(path string) error
	RemoveAll(path string) error
}

// FS is the set of host primitives consumed by the dehusker.
type FS interface {
	Deleter

	Lstat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	Mkdir(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error

	// CreateExclusive creates path and writes data to it, failing with
	// fs.ErrExist if anything already lives there.
	CreateExclusive(path string, data []byte) error

	// SameDevice reports whether a and b live on the same filesystem,
	// i.e. whether a rename between them can be atomic.
	SameDevice(a, b string) (bool, error)
}

// IsCrossDevice reports whether err is the host's "invalid cross-device
// link" failure from rename.
func IsCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
