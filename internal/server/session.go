package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/heartbeat"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/transport/stream"
)

// Session serves one accepted connection. The first frame carrying a sender
// names the session; later frames are broadcast to everyone else. The server
// never reconnects: any failure tears the session down.
type Session struct {
	id      core.SessionID
	hub     *core.Hub
	link    *stream.Link
	monitor *heartbeat.Monitor
	limiter *rateLimiter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// owned by the read loop
	name string

	closeOnce sync.Once
	stop      chan struct{}
}

func newSession(conn net.Conn, hub *core.Hub, opts Options) *Session {
	id := core.NewSessionID()
	logger := opts.Logger.With().
		Str("session", string(id)).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	return &Session{
		id:  id,
		hub: hub,
		link: stream.New(conn, stream.Options{
			MaxFrameBytes: opts.MaxFrameBytes,
			MaxPending:    opts.MaxPendingFrames,
			WriteTimeout:  opts.WriteTimeout,
			Logger:        logger,
		}),
		monitor: heartbeat.New(opts.HeartbeatTimeout),
		limiter: newRateLimiter(opts.MessagesPerMinute),
		metrics: opts.Metrics,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// ID returns the session handle.
func (s *Session) ID() core.SessionID {
	return s.id
}

// Deliver queues msg for this session without blocking.
func (s *Session) Deliver(msg proto.Message) error {
	return s.link.Send(msg)
}

// Run reads frames until the connection fails, the heartbeat expires or ctx
// is cancelled, then tears the session down.
func (s *Session) Run(ctx context.Context) {
	s.metrics.SessionOpened()
	defer s.Close()

	if err := s.hub.Attach(s.id, s); err != nil {
		s.logger.Warn().Err(err).Msg("hub unavailable")
		return
	}
	s.logger.Info().Msg("session opened")

	s.monitor.Start(func() {
		s.metrics.HeartbeatTimeout()
		s.logger.Info().Dur("timeout", s.monitor.Timeout()).Msg("heartbeat timeout")
		s.Close()
	})
	s.limiter.startReset(s.stop)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stop:
		}
	}()

	for {
		msg, err := s.link.Read()
		if err != nil {
			if proto.IsProtocolError(err) {
				s.metrics.ProtocolError()
				s.logger.Debug().Err(err).Msg("dropped malformed frame")
				continue
			}
			if !errors.Is(err, io.EOF) && !s.link.Closed() {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg proto.Message) {
	s.monitor.Touch()
	s.metrics.FrameReceived(msg.Type)

	if msg.Type == proto.TypeHeartbeat {
		if err := s.Deliver(proto.Heartbeat()); err != nil {
			s.logger.Debug().Err(err).Msg("heartbeat reply failed")
		}
		return
	}

	if s.name == "" {
		if msg.Sender == "" {
			s.logger.Debug().Msg("frame before identification dropped")
			return
		}
		s.name = msg.Sender
		s.logger.Info().Str("user", s.name).Msg("session identified")
		if err := s.hub.Identify(s.id, s.name); err != nil {
			s.logger.Warn().Err(err).Str("user", s.name).Msg("identify failed")
		}
		return
	}

	if !s.limiter.allow() {
		s.metrics.RateLimited()
		s.logger.Debug().Str("type", msg.Type.String()).Str("user", s.name).Msg("rate limited")
		return
	}

	if err := s.hub.Broadcast(ctx, msg, s.id); err != nil {
		s.logger.Warn().Err(err).Str("user", s.name).Msg("broadcast failed")
	}
}

// Close tears the session down once: the socket is closed, the heartbeat
// monitor stopped and the session detached from the hub.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.monitor.Stop()
		_ = s.link.Close()
		if err := s.hub.Detach(s.id); err != nil && !errors.Is(err, core.ErrHubStopped) {
			s.logger.Warn().Err(err).Msg("detach failed")
		}
		s.metrics.SessionClosed()
		s.logger.Info().Msg("session closed")
	})
}

// Done is closed once the session's connection is closed.
func (s *Session) Done() <-chan struct{} {
	return s.link.Done()
}
