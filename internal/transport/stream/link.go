// Package stream adapts a net.Conn to the chat protocol: frame reassembly on
// the read side and an ordered outbound queue on the write side.
package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// DefaultMaxPending is the outbound queue bound used when Options leaves it unset.
const DefaultMaxPending = 256

var (
	// ErrClosed is returned when sending on a closed link.
	ErrClosed = errors.New("stream: link closed")
	// ErrQueueFull is returned when the peer is not draining its queue.
	ErrQueueFull = errors.New("stream: outbound queue full")
)

// Options tunes a Link.
type Options struct {
	MaxFrameBytes int
	MaxPending    int
	WriteTimeout  time.Duration
	Logger        zerolog.Logger
}

// Link owns one connection. Frames are written in Send order by a drain
// goroutine that only runs while the queue is non-empty. A write failure
// closes the link; the reader then observes the broken connection.
type Link struct {
	conn   net.Conn
	reader *proto.Reader
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	queue   [][]byte
	writing bool
	closed  bool
	done    chan struct{}
	// drained is closed by drain when the queue empties; nil when nobody waits.
	drained chan struct{}
}

// New wraps conn.
func New(conn net.Conn, opts Options) *Link {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	return &Link{
		conn:   conn,
		reader: proto.NewReader(conn, opts.MaxFrameBytes),
		opts:   opts,
		log:    opts.Logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		done:   make(chan struct{}),
	}
}

// Read blocks until the next message arrives. Only one goroutine may read.
// Protocol errors are returned as *proto.FrameError and leave the link usable.
func (l *Link) Read() (proto.Message, error) {
	return l.reader.ReadMessage()
}

// Send encodes msg and queues it behind any frames not yet written.
func (l *Link) Send(msg proto.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return l.Enqueue(frame)
}

// Enqueue queues an already encoded frame.
func (l *Link) Enqueue(frame []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if len(l.queue) >= l.opts.MaxPending {
		l.mu.Unlock()
		return ErrQueueFull
	}
	l.queue = append(l.queue, frame)
	start := !l.writing
	l.writing = true
	l.mu.Unlock()

	if start {
		go l.drain()
	}
	return nil
}

func (l *Link) drain() {
	for {
		l.mu.Lock()
		if l.closed || len(l.queue) == 0 {
			l.writing = false
			if !l.closed && l.drained != nil {
				close(l.drained)
				l.drained = nil
			}
			l.mu.Unlock()
			return
		}
		frame := l.queue[0]
		l.mu.Unlock()

		if l.opts.WriteTimeout > 0 {
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout))
		}
		if _, err := l.conn.Write(frame); err != nil {
			l.log.Debug().Err(err).Msg("write failed, closing link")
			_ = l.Close()
			return
		}

		l.mu.Lock()
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
	}
}

// Close closes the connection and drops unsent frames. It is safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.queue = nil
	close(l.done)
	l.mu.Unlock()

	return l.conn.Close()
}

// Flush waits until every queued frame has been written.
func (l *Link) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.drained == nil {
		l.drained = make(chan struct{})
	}
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Closed reports whether Close has run.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Pending returns the number of frames waiting to be written, including one in flight.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RemoteAddr returns the peer address for logging.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}
