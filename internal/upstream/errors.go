package upstream

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the upstream service has no such entity.
var ErrNotFound = errors.New("upstream: not found")

// TransportError wraps a network-level failure (DNS, connect, timeout).
// The poller treats it as a fetch failure and retries on its own cadence.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the configured API key was rejected by the remote side.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream auth rejected: %s", e.Message)
}

// UpstreamError is any other non-success HTTP response, with the
// upstream-supplied message preserved for the caller.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}

// ProtocolError marks a contract violation such as a pagination cursor
// repeating itself.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream protocol error: %s", e.Message)
}
