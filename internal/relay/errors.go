package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeRejected means the relay did not verify the auth frame.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrTransport wraps failures of the underlying connection.
	ErrTransport = errors.New("transport error")
	// ErrSessionClosed is returned when starting a session that was stopped or already ran.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoHosts means the room connection lists no relay hosts.
	ErrNoHosts = errors.New("no relay hosts")
)

// HandshakeError reports a rejected handshake with the ack code, if one arrived.
type HandshakeError struct {
	Code int
	Err  error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake rejected (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("handshake rejected (code %d)", e.Code)
}

func (e *HandshakeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrHandshakeRejected, e.Err}
	}
	return []error{ErrHandshakeRejected}
}
