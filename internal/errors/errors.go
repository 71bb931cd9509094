// Package errors provides domain-specific error types for rclink.
//
// These types carry structured context (operation, device, channel,
// retryability) that helps callers decide how to handle a failure: a
// connection fault always ends the session, a busy rejection is fully
// recoverable, and a range error is a caller bug.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrAlreadyConnected = errors.New("session already active")
	ErrNotConnected     = errors.New("not connected")
	ErrBusy             = errors.New("command already in flight")
	ErrOutOfRange       = errors.New("pwm value out of range")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrFrameOverflow    = errors.New("unterminated message exceeds buffer limit")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrPermissionDenied = errors.New("device access denied")
	ErrTunnelClosed     = errors.New("tunnel is closed")
	ErrAuthFailed       = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// ConnectError reports that a device stream could not be opened.  It is
// never retried by the session; the user has to trigger a new connect.
type ConnectError struct {
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IOFaultError is a read or write failure on an established connection.
type IOFaultError struct {
	Op     string // "read", "write"
	Device string
	Err    error
}

func (e *IOFaultError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *IOFaultError) Unwrap() error { return e.Err }

// RangeError is returned when a command value falls outside the
// actuation range.
type RangeError struct {
	Channel string
	Value   int
	Min     int
	Max     int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s pwm %d outside [%d, %d]", e.Channel, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// NetworkError represents a failure dialing a network serial bridge.
type NetworkError struct {
	Op        string // operation: "dial", "read", "write"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Fault creates an IOFaultError for device.
func Fault(op, device string, err error) *IOFaultError {
	return &IOFaultError{Op: op, Device: device, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsConnectionFault reports whether err ended (or should end) an
// established session.
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	var fe *IOFaultError
	return errors.As(err, &fe) || errors.Is(err, ErrFrameOverflow)
}

// IsRetryable reports whether err is worth retrying.  Only connect
// failures can be retryable; a session never retries I/O in place.
//
// A failed connect is retried whatever the transport reported, since
// a bridge that refuses the dial is usually one that has not started
// listening yet.  Missing devices, denied access, rejected credentials
// and abandoned connects are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, context.Canceled):
		return false
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
