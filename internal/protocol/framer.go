package protocol

import (
	"bytes"
	"iter"
)

// Framer reassembles newline-delimited messages from a byte stream that
// may deliver them in arbitrary fragments.  A Framer holds the
// unterminated tail between calls and belongs to exactly one session;
// it is not safe for concurrent use.
//
// The Framer never caps its buffer.  Callers that need a bound should
// check [Framer.Pending] after each feed.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends p to the buffer and returns the complete messages now
// available, in receipt order, without their delimiters.  Empty
// messages are skipped.
//
// The sequence is lazy: each message is removed from the buffer as it
// is yielded.  If the caller stops early the remaining messages stay
// buffered and are yielded by the next Feed.
func (f *Framer) Feed(p []byte) iter.Seq[string] {
	f.buf = append(f.buf, p...)
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(f.buf, Delimiter)
			if i < 0 {
				f.compact()
				return
			}
			msg := string(f.buf[:i])
			f.buf = f.buf[i+1:]
			if msg == "" {
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Pending returns the number of buffered bytes.  Once the sequence
// from the last Feed has been drained this is the unterminated tail.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}

// compact moves the tail to the front of a fresh slice once it is all
// that remains, so the consumed prefix can be collected.
func (f *Framer) compact() {
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
		return
	}
	if cap(f.buf) > 2*len(f.buf) {
		f.buf = append([]byte(nil), f.buf...)
	}
}
