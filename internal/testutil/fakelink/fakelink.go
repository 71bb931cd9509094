// Package fakelink provides an in-memory vehicle link for tests.  A
// Device hands out Streams whose reads are scripted by the test and
// whose writes are captured for inspection.
package fakelink

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"rclink/internal/transport"
)

// ErrOpen is returned by Open after FailOpen(nil).
var ErrOpen = errors.New("fakelink: open failed")

// Device is a scriptable [transport.Device].
type Device struct {
	name string

	mu      sync.Mutex
	openErr error
	gate    chan struct{} // non-nil: Open blocks until closed
	entered chan struct{}
	opens   int
	streams []*Stream
	onOpen  func(*Stream)
}

// New returns a device that opens successfully.
func New(name string) *Device {
	return &Device{name: name}
}

// Name implements [transport.Device].
func (d *Device) Name() string { return d.name }

// FailOpen makes subsequent opens fail with err (ErrOpen if nil).
func (d *Device) FailOpen(err error) {
	if err == nil {
		err = ErrOpen
	}
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// HoldOpen makes the next Open block until the returned release
// function is called.  The entered channel is closed once Open is
// waiting.
func (d *Device) HoldOpen() (entered <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
	d.entered = make(chan struct{})
	gate := d.gate
	var once sync.Once
	return d.entered, func() { once.Do(func() { close(gate) }) }
}

// OnOpen registers fn to run on every new stream before Open returns
// it, so a test can script the stream ahead of the session using it.
func (d *Device) OnOpen(fn func(*Stream)) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

// Open implements [transport.Device].
func (d *Device) Open(ctx context.Context) (transport.ByteStream, error) {
	d.mu.Lock()
	gate, entered := d.gate, d.entered
	d.gate, d.entered = nil, nil
	d.opens++
	d.mu.Unlock()

	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if d.openErr != nil {
		err := d.openErr
		d.mu.Unlock()
		return nil, err
	}
	s := &Stream{}
	d.streams = append(d.streams, s)
	onOpen := d.onOpen
	d.mu.Unlock()

	if onOpen != nil {
		onOpen(s)
	}
	return s, nil
}

// Opens returns the number of Open calls so far.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stream returns the most recently opened stream, or nil.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Stream is a pollable [transport.ByteStream].  Reads return injected
// data in order and (0, nil) when none is queued.
type Stream struct {
	mu       sync.Mutex
	inbound  []byte
	readErr  error
	writeErr error
	hold     chan struct{} // non-nil: the next write blocks until closed
	held     chan struct{}
	written  []byte
	frames   []string
	closed   bool
	closes   int
}

// Inject queues s for the session to read.
func (s *Stream) Inject(data string) {
	s.mu.Lock()
	s.inbound = append(s.inbound, data...)
	s.mu.Unlock()
}

// FailReads makes the next read, after queued data is drained, fail
// with err.
func (s *Stream) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// FailWrites makes every subsequent write fail with err.
func (s *Stream) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	if len(s.inbound) > 0 {
		n := copy(p, s.inbound)
		s.inbound = s.inbound[n:]
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return 0, nil
}

// HoldWrite makes the next write block until release is called.  The
// entered channel is closed once that write is waiting.
func (s *Stream) HoldWrite() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	s.held = make(chan struct{})
	hold := s.hold
	var once sync.Once
	return s.held, func() { once.Do(func() { close(hold) }) }
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	hold, held := s.hold, s.held
	s.hold, s.held = nil, nil
	s.mu.Unlock()
	if hold != nil {
		close(held)
		<-hold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, p...)
	s.frames = append(s.frames, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// Close marks the stream closed.  Later reads and writes fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Written returns every byte written so far.
func (s *Stream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.written)
}

// Frames returns each Write call's payload without its delimiter.
func (s *Stream) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closes returns how many times Close was called.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
