// Package server accepts chat connections and runs one Session per socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/heartbeat"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server: closed")

// Options tunes every session the server starts.
type Options struct {
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxFrameBytes     int
	MaxPendingFrames  int
	MessagesPerMinute int
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
}

// Server owns the TCP listener and the live sessions.
type Server struct {
	hub    *core.Hub
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a server that registers sessions with hub.
func New(hub *core.Hub, opts Options) *Server {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = heartbeat.DefaultTimeout
	}
	logger := opts.Logger.With().Str("component", "server").Logger()
	opts.Logger = logger
	return &Server{
		hub:      hub,
		opts:     opts,
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn().Err(err).Msg("accept timeout")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		go s.HandleConn(ctx, conn)
	}
}

// HandleConn runs a session on conn and blocks until it ends. Other
// transports, such as the WebSocket endpoint, hand their connections here.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, s.hub, s.opts)
	if !s.track(sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	sess.Run(ctx)
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting, tears down every session and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range sessions {
		sess.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.wg.Done()
}
