package comm

import (
	"errors"
	"fmt"
)

// ErrClosed reports that a channel was closed while an operation was pending
// on it. A receiver blocked on a closed channel fails with ErrClosed instead
// of hanging.
var ErrClosed = errors.New("connection closed")

// A ConnectionError reports a failed handshake or an unreachable peer. It is
// fatal for the run; the caller is expected to abort.
type ConnectionError struct {
	Local  string
	Remote string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting %s to %s: %v", e.Local, e.Remote, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// A TransportError reports a mid-session read or write failure. It is
// surfaced to the caller of the failing operation and never retried by the
// transport; retrying risks duplicate delivery.
type TransportError struct {
	Op   string
	Rank int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s rank %d: %v", e.Op, e.Rank, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
