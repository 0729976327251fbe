package dehusk

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error carries exactly one of these as its Kind, so
// callers can branch with errors.Is.
var (
	// ErrInvalidInput means the target was rejected before anything was read
	// below it: missing, not a directory, or refused by the Validator.
	ErrInvalidInput = errors.New("invalid dehusk target")

	// ErrTraversal means listing a directory failed while looking for the
	// seed, or ctx was cancelled before the swap began. Nothing has been
	// modified.
	ErrTraversal = errors.New("traversal failed")

	// ErrSwap means one of the detach, discard or reattach steps failed.
	// Check Error.Temp to learn whether the payload was already moved.
	ErrSwap = errors.New("swap failed")

	// ErrLocked means the advisory lock for the target could not be taken.
	ErrLocked = errors.New("target is locked")

	// ErrUnlock means the lock file could not be removed. The operation
	// itself may have completed; the stale lock blocks the next run until
	// it is removed.
	ErrUnlock = errors.New("lock release failed")
)

// Causes carried in Error.Err.
var (
	ErrNotDirectory      = errors.New("not a directory")
	ErrFilesystemRoot    = errors.New("cannot dehusk a filesystem root")
	ErrCrossDevice       = errors.New("seed and temporary path are on different devices")
	ErrAmbiguousRecovery = errors.New("more than one temporary swap directory")
	ErrRecoveryConflict  = errors.New("target and temporary swap directory both hold content")
)

// Phase names the step an operation was in when it failed.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseTraverse Phase = "traverse"
	PhaseDetach   Phase = "detach"
	PhaseDiscard  Phase = "discard"
	PhaseReattach Phase = "reattach"
	PhaseUnlock   Phase = "unlock"
)

// Error is returned by every Dehusker operation.
type Error struct {
	Kind  error
	Phase Phase
	Path  string

	// Temp is set when the payload had already been detached and now lives
	// at this path instead of under Path.
	Temp string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dehusk %s: %v during %s: %v", e.Path, e.Kind, e.Phase, e.Err)
	if e.Temp != "" {
		msg += " (payload left at " + e.Temp + ")"
	}
	return msg
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Intermediate reports whether the filesystem was left between states:
// the payload sits at Temp and Path is missing or still holds the empty
// wrapper chain. Recover finishes such a swap.
func (e *Error) Intermediate() bool {
	return e.Temp != ""
}

// IsIntermediate reports whether err, or any error it wraps, is an *Error
// that left the target in an intermediate state.
func IsIntermediate(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Intermediate()
}
