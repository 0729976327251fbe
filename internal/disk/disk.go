package disk

import (
	"errors"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// GetDiskUsage returns the percentage of disk space used for a given path
func GetDiskUsage(path string) (usedPercent float64, freeBytes int64, totalBytes int64, err error) {
	var stat unix.Statfs_t
	err = unix.Statfs(path, &stat)
	if err != nil {
		return 0, 0, 0, err
	}

	totalBytes = int64(stat.Blocks) * int64(stat.Bsize)
	freeBytes = int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - freeBytes

	if totalBytes > 0 {
		usedPercent = (float64(usedBytes) / float64(totalBytes)) * 100.0
	}

	return usedPercent, freeBytes, totalBytes, nil
}

// DeviceID returns the device number of the filesystem holding path.
// Symlinks are not followed.
func DeviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return uint64(st.Dev), nil
}

// SameDevice reports whether a and b are on the same filesystem, which is
// the precondition for an atomic rename between them.
func SameDevice(a, b string) (bool, error) {
	da, err := DeviceID(a)
	if err != nil {
		return false, err
	}
	db, err := DeviceID(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// IsNFSStale checks if a path is on a stale NFS mount by attempting a quick stat
// with timeout. Returns true if the operation times out or fails with NFS-specific errors.
func IsNFSStale(path string, timeout time.Duration) bool {
	done := make(chan error, 1)

	go func() {
		_, err := os.Stat(path)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			// Common NFS errors: EIO, ESTALE, ENXIO
			if os.IsTimeout(err) ||
				errors.Is(err, syscall.EIO) ||
				errors.Is(err, syscall.ESTALE) ||
				errors.Is(err, syscall.ENXIO) {
				return true
			}
		}
		return false
	case <-time.After(timeout):
		return true
	}
}
