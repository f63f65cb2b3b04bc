package common

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// ErrNotConnected is matched by every NotConnectedError
	ErrNotConnected = errors.New("not connected")
	// ErrRequestTimeout is matched by every RequestTimeoutError (device silent)
	ErrRequestTimeout = errors.New("request timed out")
	// ErrConnectionClosed is matched by every ConnectionClosedError (link gone)
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNodeDBReadOnly is returned by every mutation attempt on a node snapshot
	ErrNodeDBReadOnly = errors.New("node database is read-only")
	// ErrEnvelopeTooLarge is returned when a payload does not fit into one envelope
	ErrEnvelopeTooLarge = errors.New("envelope too large")
	// ErrIDSpaceExhausted is returned when no free packet id could be drawn
	ErrIDSpaceExhausted = errors.New("could not draw a free packet id")
	// ErrNoResponseExpected is returned when waiting on a request that is not tracked
	ErrNoResponseExpected = errors.New("request does not expect a response")
	// ErrHandshakeTimeout is returned by Open when the config handshake did not complete in time
	ErrHandshakeTimeout = errors.New("config handshake timed out")
	// ErrKeepaliveTimeout terminates a connection whose device did not answer a heartbeat probe
	ErrKeepaliveTimeout = errors.New("device did not answer the keepalive probe")
	// ErrDeviceRebooted terminates a connection when the device reports a reboot
	ErrDeviceRebooted = errors.New("device rebooted")
)

// --------------------------------------------------------------------------
// Error Types
// --------------------------------------------------------------------------

// TransportError is a failure of the underlying byte stream.
// It is always fatal for the connection it occurred on.
type TransportError struct {
	Op  string // "open", "wake", "read", "write" or "close"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FramingError reports bytes that had to be discarded while looking for the
// next envelope. The stream keeps flowing after a FramingError.
type FramingError struct {
	Reason    string
	Discarded int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s (discarded %d bytes)", e.Reason, e.Discarded)
}

// DecodeError reports an envelope whose payload could not be decoded.
// The envelope is skipped, the connection stays up.
type DecodeError struct {
	Message string // which message was being decoded, e.g. "FromRadio"
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Message, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RequestTimeoutError is delivered to a waiting caller when no matching
// response arrived before the deadline.
type RequestTimeoutError struct {
	PacketID uint32
	Timeout  time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %08x timed out after %s", e.PacketID, e.Timeout)
}

func (e *RequestTimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

// NotConnectedError is returned by send operations attempted before the
// handshake completed or after the connection started closing.
type NotConnectedError struct {
	State string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("not connected (state %s)", e.State)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// ConnectionClosedError rejects pending requests when the connection goes away.
// Cause is nil when the caller closed the connection, otherwise it holds the
// error that terminated the link (usually a *TransportError).
type ConnectionClosedError struct {
	Cause error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause == nil {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionClosed, e.Cause)
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

func (e *ConnectionClosedError) Is(target error) bool { return target == ErrConnectionClosed }

// AckError is a negative acknowledgement (NAK) reported by the device.
type AckError struct {
	PacketID uint32
	Reason   RoutingError
}

func (e *AckError) Error() string {
	return fmt.Sprintf("packet %08x rejected: %s", e.PacketID, e.Reason)
}
