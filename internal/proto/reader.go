package proto

import (
	"errors"
	"io"
)

// DefaultMaxFrameBytes bounds the memory a single peer can make the reader buffer.
const DefaultMaxFrameBytes = 1 << 20

const readChunk = 4096

// Reader reassembles frames from a byte stream. A frame may arrive split across
// several reads, and one read may carry several frames.
type Reader struct {
	src     io.Reader
	buf     []byte
	start   int
	maxSize int
	discard int // bytes of an oversized frame still to skip
}

// NewReader wraps src. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewReader(src io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Reader{
		src:     src,
		buf:     make([]byte, 0, readChunk),
		maxSize: maxFrame,
	}
}

// Buffered returns the number of bytes read from src but not yet consumed.
func (r *Reader) Buffered() int {
	return len(r.buf) - r.start
}

// ReadMessage returns the next complete message.
// A *FrameError means one frame was dropped and the caller may keep reading;
// any other error comes from the underlying stream.
func (r *Reader) ReadMessage() (Message, error) {
	for {
		if r.discard > 0 {
			if err := r.skip(); err != nil {
				return Message{}, err
			}
			continue
		}

		pending := r.buf[r.start:]
		n, err := FrameLen(pending)
		switch {
		case err == nil && n > r.maxSize:
			r.dropOversized(n)
			return Message{}, &FrameError{Err: ErrFrameTooLarge, Size: n}
		case err == nil && n <= len(pending):
			msg, decErr := Decode(pending[:n])
			r.consume(n)
			return msg, decErr
		case err != nil && !errors.Is(err, ErrIncomplete):
			// Length does not fit in an int; nothing after it can be trusted.
			r.dropOversized(len(pending))
			return Message{}, err
		}

		if err := r.fill(); err != nil {
			return Message{}, err
		}
	}
}

func (r *Reader) consume(n int) {
	r.start += n
	if r.start == len(r.buf) {
		r.buf = r.buf[:0]
		r.start = 0
	}
}

func (r *Reader) dropOversized(n int) {
	buffered := r.Buffered()
	if n <= buffered {
		r.consume(n)
		return
	}
	r.discard = n - buffered
	r.buf = r.buf[:0]
	r.start = 0
}

func (r *Reader) skip() error {
	var scratch [readChunk]byte
	want := min(r.discard, len(scratch))
	n, err := r.src.Read(scratch[:want])
	r.discard -= n
	if err != nil && r.discard > 0 {
		return err
	}
	return nil
}

func (r *Reader) fill() error {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	if cap(r.buf)-len(r.buf) < readChunk {
		grown := make([]byte, len(r.buf), 2*cap(r.buf)+readChunk)
		copy(grown, r.buf)
		r.buf = grown
	}
	n, err := r.src.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}
