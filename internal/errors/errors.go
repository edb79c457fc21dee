package errors

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	ErrConflict = errors.New("write conflict")
	ErrNotFound = errors.New("document not found")
)

// Snapshot errors.
var (
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")
	ErrRemoteUnavailable = errors.New("remote storage unavailable")
	ErrUnknownCollection = errors.New("unknown collection")
)

// ConflictError reports a compare-and-swap write that lost against a
// concurrent writer. It matches ErrConflict under errors.Is.
type ConflictError struct {
	ID       string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s: expected rev %q, current %q", e.ID, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err is a write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
