package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the factory rate of HC-05/HC-06 Bluetooth modules.
const DefaultBaud = 9600

// SerialDevice is a serial device node: a USB adapter, or an RFCOMM
// port bound to a paired Bluetooth SPP module (/dev/rfcomm0).
type SerialDevice struct {
	Label       string
	Path        string
	Baud        int
	ReadTimeout time.Duration // poll window; rounded up to 100ms by the driver

	// open is swapped out in tests.
	open func(*serial.Config) (io.ReadWriteCloser, error)
}

// Name implements [Device].
func (d *SerialDevice) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Path
}

func (d *SerialDevice) String() string {
	return fmt.Sprintf("serial:%s@%d", d.Path, d.baud())
}

func (d *SerialDevice) baud() int {
	if d.Baud > 0 {
		return d.Baud
	}
	return DefaultBaud
}

// Open implements [Device].  The device node must be readable and
// writable by the current user.
func (d *SerialDevice) Open(ctx context.Context) (ByteStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckAccess(d.Path); err != nil {
		return nil, err
	}

	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultPollWindow
	}
	cfg := &serial.Config{
		Name:        d.Path,
		Baud:        d.baud(),
		Parity:      serial.ParityNone,
		ReadTimeout: timeout,
	}

	open := d.open
	if open == nil {
		open = func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.OpenPort(c)
		}
	}
	port, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}
	return &serialStream{port: port, minWait: driverWindow(timeout) / 2}, nil
}

// driverWindow is the read timeout the driver actually applies: VTIME
// counts whole tenths of a second, from 1 to 255.
func driverWindow(d time.Duration) time.Duration {
	const tick = 100 * time.Millisecond
	return min(max(d.Truncate(tick), tick), 255*tick)
}

// errHangup reports a serial line that went away under an open port:
// an unplugged USB adapter or a dropped RFCOMM link.
var errHangup = fmt.Errorf("%w: serial line hung up", io.ErrUnexpectedEOF)

// serialStream adapts a port opened with a read timeout.  An expired
// timeout surfaces from the driver as a zero-byte read with io.EOF,
// which here means "nothing available".  A hung-up tty also reads as
// (0, io.EOF), but at once; an EOF quicker than minWait is a hangup.
type serialStream struct {
	port    io.ReadWriteCloser
	minWait time.Duration
}

func (s *serialStream) Read(p []byte) (int, error) {
	start := time.Now()
	n, err := s.port.Read(p)
	if n == 0 && errors.Is(err, io.EOF) {
		if time.Since(start) < s.minWait {
			return 0, errHangup
		}
		return 0, nil
	}
	return n, err
}

func (s *serialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialStream) Close() error {
	return s.port.Close()
}
