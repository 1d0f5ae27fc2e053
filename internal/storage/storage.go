// Package storage holds the error type shared by tether's on-disk stores.
//
// Both the response cache and the pending-write queue report failures of the
// underlying medium (disk full, database locked, permissions) as *Error so
// callers can tell "storage is unavailable, retry later" apart from
// validation and network errors without caring which store failed.
package storage

import (
	"errors"
	"fmt"
)

// Error reports a failed operation against durable storage.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("storage %s failed", e.Op)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap returns err as a *Error for op. A nil err stays nil, and an error that
// already is a *Error is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStorage reports whether err came from a failed storage operation.
func IsStorage(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
