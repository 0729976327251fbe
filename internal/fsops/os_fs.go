package fsops

import (
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"dehusk/internal/disk"
)

// OSDeleter implements Deleter using real os package calls
type OSDeleter struct{}

func (OSDeleter) Remove(path string) error {
	return os.Remove(path)
}

func (OSDeleter) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// OSFS implements FS on top of the os package.
type OSFS struct {
	OSDeleter
}

func (OSFS) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (OSFS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (OSFS) Mkdir(path string, perm fs.FileMode) error {
	return os.Mkdir(path, perm)
}

// Rename calls rename(2) directly. os.Rename refuses to replace an existing
// directory, which is exactly what the detach step needs: newpath is the
// empty placeholder reserved by Mkdir.
func (OSFS) Rename(oldpath, newpath string) error {
	if err := unix.Rename(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}

func (OSFS) CreateExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func (OSFS) SameDevice(a, b string) (bool, error) {
	return disk.SameDevice(a, b)
}

// Default is the host filesystem.
var Default FS = OSFS{}
