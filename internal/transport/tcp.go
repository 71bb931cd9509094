package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	ncerr "rclink/internal/errors"
)

// DefaultBridgePort is the conventional raw-mode port of a ser2net
// style serial-to-TCP bridge.
const DefaultBridgePort = 4000

// TCPDevice is a serial line exposed by a TCP bridge in raw mode.
type TCPDevice struct {
	Label        string
	Address      string // host:port
	Timeout      time.Duration
	PollWindow   time.Duration
	WriteTimeout time.Duration
	LocalPort    int // optional source-port binding (0 = ephemeral)
}

// Name implements [Device].
func (d *TCPDevice) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Address
}

func (d *TCPDevice) String() string { return "tcp:" + d.Address }

// Open implements [Device].
func (d *TCPDevice) Open(ctx context.Context) (ByteStream, error) {
	dialer := net.Dialer{Timeout: d.Timeout}

	if d.LocalPort > 0 {
		a, err := net.ResolveTCPAddr("tcp", fmt.Sprintf(":%d", d.LocalPort))
		if err != nil {
			return nil, fmt.Errorf("resolve local addr: %w", err)
		}
		dialer.LocalAddr = a
	}

	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, ncerr.Wrap("dial", d.Address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// Command frames are six bytes; don't let Nagle hold them back.
		tc.SetNoDelay(true) //nolint:errcheck
	}
	return NewDeadlineStream(conn, d.PollWindow, d.WriteTimeout), nil
}

// DeadlineStream makes a net.Conn pollable with read deadlines.
type DeadlineStream struct {
	conn         net.Conn
	pollWindow   time.Duration
	writeTimeout time.Duration
}

// NewDeadlineStream wraps conn.  A zero pollWindow uses
// [DefaultPollWindow]; a zero writeTimeout leaves writes unbounded.
func NewDeadlineStream(conn net.Conn, pollWindow, writeTimeout time.Duration) *DeadlineStream {
	if pollWindow <= 0 {
		pollWindow = DefaultPollWindow
	}
	return &DeadlineStream{conn: conn, pollWindow: pollWindow, writeTimeout: writeTimeout}
}

func (s *DeadlineStream) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.pollWindow)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (s *DeadlineStream) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return s.conn.Write(p)
}

func (s *DeadlineStream) Close() error {
	return s.conn.Close()
}
