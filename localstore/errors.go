package localstore

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an absent row. Callers that expect absence (e.g.
// GetMessageById) treat it as a typed no-op, not a failure.
var ErrNotFound = errors.New("localstore: not found")

// ErrClosed reports a call against a store whose handle was released.
var ErrClosed = errors.New("store is closed")

// InitError is fatal to the store instance: the database file could not
// be opened or migrated. The recovery policy is a full Reset().
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("localstore: init %s: %v", e.Path, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// WriteError is a recoverable failure of a single write; the caller may
// retry the specific operation.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("localstore: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
