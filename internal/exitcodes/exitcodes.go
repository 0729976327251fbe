package exitcodes

import (
	"errors"

	"dehusk/internal/dehusk"
	"dehusk/internal/safety"
)

// Exit codes for the dehusk CLI
// These codes form the operational contract with scripts and operators
const (
	Success         = 0 // Successful execution
	Failure         = 1 // A dehusk or recovery failed without further classification
	InvalidConfig   = 2 // Configuration file invalid, or bad usage
	SafetyViolation = 3 // Safety validator blocked an operation
	RuntimeError    = 4 // Runtime error during execution
	LockHeld        = 5 // Another process holds the target's lock
	Intermediate    = 6 // A swap failed after detach; the payload sits in a temporary sibling
)

var safetyErrors = []error{
	safety.ErrInvalidPath,
	safety.ErrProtectedPath,
	safety.ErrOutsideAllowed,
	safety.ErrTraversal,
	safety.ErrSymlinkEscape,
	safety.ErrSymlinkTarget,
}

// ForError maps an error returned by a dehusk operation to an exit code.
func ForError(err error) int {
	if err == nil {
		return Success
	}
	if dehusk.IsIntermediate(err) {
		return Intermediate
	}
	if errors.Is(err, dehusk.ErrLocked) {
		return LockHeld
	}
	for _, se := range safetyErrors {
		if errors.Is(err, se) {
			return SafetyViolation
		}
	}
	var de *dehusk.Error
	if errors.As(err, &de) {
		return Failure
	}
	return RuntimeError
}
