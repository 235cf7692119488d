package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when calling before the handshake completed.
	ErrNotReady = errors.New("client: handshake not complete")
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("client: already started")
	// ErrClosed is returned when using a closed client.
	ErrClosed = errors.New("client: closed")
	// ErrStreamClosed indicates the server's output ended before the
	// awaited response arrived, usually because the process exited.
	ErrStreamClosed = errors.New("client: server output closed")
	// ErrTimeout indicates no correlated response arrived in time.
	ErrTimeout = errors.New("client: timed out waiting for response")
	// ErrMissingServerInfo is returned by Start when the initialize result
	// does not name the server.
	ErrMissingServerInfo = errors.New("client: initialize result lacks serverInfo.name")
)

// StartupError reports a failure to spawn the server or complete the
// initialize handshake. The server process has been terminated by the time
// it is returned.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("client: startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
