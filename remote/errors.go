package remote

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is a remote-side permission rejection, e.g. deleting
// another user's message for everyone. Surfaced to the caller, never
// retried.
var ErrUnauthorized = errors.New("remote: unauthorized")

// SendError is a network or remote-side failure of one operation. The
// caller leaves the affected row pending/failed and retries later.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
