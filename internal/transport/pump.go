package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// PumpStream makes a blocking-only stream pollable.  A background
// goroutine performs the blocking reads and hands chunks over a
// channel; Read waits at most one poll window for the next chunk.
// Close closes the underlying stream, which unblocks the pump.
type PumpStream struct {
	rw         io.ReadWriteCloser
	pollWindow time.Duration
	chunks     chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	pending []byte // unread remainder of the last chunk
	readErr error  // set before chunks is closed
}

// NewPumpStream starts pumping rw in chunks of up to chunkSize bytes.
func NewPumpStream(rw io.ReadWriteCloser, pollWindow time.Duration, chunkSize int) *PumpStream {
	if pollWindow <= 0 {
		pollWindow = DefaultPollWindow
	}
	if chunkSize <= 0 {
		chunkSize = 256
	}
	p := &PumpStream{
		rw:         rw,
		pollWindow: pollWindow,
		chunks:     make(chan []byte, 4),
		done:       make(chan struct{}),
	}
	go p.pump(chunkSize)
	return p
}

func (p *PumpStream) pump(chunkSize int) {
	defer close(p.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := p.rw.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- buf[:n]:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.readErr = err
			return
		}
	}
}

// Read returns buffered data, or waits up to one poll window for more.
// It is not safe for concurrent use by multiple readers.
func (p *PumpStream) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}

	timer := time.NewTimer(p.pollWindow)
	defer timer.Stop()

	select {
	case chunk, ok := <-p.chunks:
		if !ok {
			if p.readErr == nil {
				return 0, io.EOF
			}
			return 0, p.readErr
		}
		n := copy(b, chunk)
		p.pending = chunk[n:]
		return n, nil
	case <-p.done:
		return 0, net.ErrClosed
	case <-timer.C:
		return 0, nil
	}
}

func (p *PumpStream) Write(b []byte) (int, error) {
	return p.rw.Write(b)
}

// Close stops the pump and closes the underlying stream.
func (p *PumpStream) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.rw.Close()
	})
	return err
}
