// Package transport provides the byte streams a control session runs
// over.  Transports handle the "how" of reaching the vehicle (a serial
// device node, a TCP serial bridge, or such a bridge behind an SSH
// gateway) independent of the protocol spoken on the stream.
//
// Every ByteStream is pollable: a Read that finds no data returns
// (0, nil) within a bounded time instead of blocking indefinitely, so
// the session's read loop can observe cancellation between reads.
package transport

import (
	"context"
	"io"
	"time"
)

// DefaultPollWindow bounds how long a single Read may wait for data.
const DefaultPollWindow = 100 * time.Millisecond

// ByteStream is an open, bidirectional link to the vehicle.
//
// Read returns (0, nil) when nothing arrived within the stream's poll
// window.  Any error from Read or Write means the link is unusable.
// Read and Write may be called concurrently with each other, but not
// with Close.
type ByteStream interface {
	io.ReadWriteCloser
}

// Device is a handle to a vehicle that has not been opened yet, the
// value returned by device discovery.
type Device interface {
	// Name identifies the device in logs and status messages.
	Name() string

	// Open acquires read/write access.  On error no resources remain
	// held.
	Open(ctx context.Context) (ByteStream, error)
}

// Kind names a transport implementation.
type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindSSH    Kind = "ssh"
)

// Valid reports whether k is a known transport.
func (k Kind) Valid() bool {
	switch k {
	case KindSerial, KindTCP, KindSSH:
		return true
	}
	return false
}
