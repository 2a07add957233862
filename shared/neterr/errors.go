// Package neterr defines the error taxonomy shared by the wire codec, the delta
// decoder and the channel layer. Errors are per-peer: none of them should ever
// take down a server process.
package neterr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTruncated is wrapped by ProtocolError when a read runs past the end
	// of a message.
	ErrTruncated = errors.New("truncated read")
	// ErrMalformed is wrapped by ProtocolError for structurally invalid data
	// such as an unterminated string or an out-of-order entity record.
	ErrMalformed = errors.New("malformed message")
)

// ProtocolError reports malformed or truncated wire data. It is fatal for the
// connection that produced it.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Truncated builds a ProtocolError for a read that ran out of bytes.
func Truncated(op string) error {
	return &ProtocolError{Op: op, Err: ErrTruncated}
}

// Malformed builds a ProtocolError with a formatted detail message.
func Malformed(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
}

// DesyncError means the peer's data does not fit our field tables or entity
// bounds, which only happens when client and server builds disagree.
type DesyncError struct {
	Reason string
}

func (e *DesyncError) Error() string {
	return "desync: " + e.Reason
}

// Desync builds a DesyncError with a formatted reason.
func Desync(format string, args ...any) error {
	return &DesyncError{Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError reports an acknowledgment or connection timeout. Ack timeouts
// are recovered with a full resync; connection timeouts drop the peer.
type TimeoutError struct {
	Kind  string // "ack" or "connection"
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s", e.Kind, e.After.Round(time.Millisecond))
}

// IsFatal reports whether err must terminate the connection to the peer.
func IsFatal(err error) bool {
	var pe *ProtocolError
	var de *DesyncError
	return errors.As(err, &pe) || errors.As(err, &de)
}

// DisconnectReason returns the user-facing reason string sent to a peer that
// is dropped because of err.
func DisconnectReason(err error) string {
	var de *DesyncError
	if errors.As(err, &de) {
		return "incompatible version: " + de.Reason
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return "bad packet: " + pe.Error()
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return "timed out"
	}
	return err.Error()
}
