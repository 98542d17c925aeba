// Package client maintains a chat connection to a server: identification,
// heartbeats, liveness checks and reconnection with backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/backoff"
	"github.com/vovakirdan/wirechat-tcp/internal/heartbeat"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/store"
	"github.com/vovakirdan/wirechat-tcp/internal/transport/stream"
)

// State is the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal until Connect is called again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind tells the application what happened.
type EventKind int

const (
	// EventMessage carries an inbound non-heartbeat message.
	EventMessage EventKind = iota
	// EventStatus is informational connection progress.
	EventStatus
	// EventConnected follows every successful connect or reconnect.
	EventConnected
	// EventDisconnected reports a lost link that will not be retried.
	EventDisconnected
)

// Event is delivered on the Events channel.
type Event struct {
	Kind    EventKind
	Message proto.Message
	Status  string
	// Delay is set on the status event that announces a scheduled reconnect.
	Delay backoff.Delay
	// Terminal is set when reconnection gave up.
	Terminal bool
	Err      error
}

// Options configures a Connection.
type Options struct {
	// Username is sent in an identify frame after every connect.
	Username          string
	AutoReconnect     bool
	Backoff           backoff.Config
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxFrameBytes     int
	Dialer            Dialer
	// History, when set, receives every sent and received text message.
	History     store.MessageStore
	Logger      zerolog.Logger
	EventBuffer int
}

const (
	defaultDialTimeout = 5 * time.Second
	defaultEventBuffer = 64
)

// Connection is a client link to one server. All methods are safe for
// concurrent use. Events must be drained by the application; emission blocks
// when the buffer is full.
type Connection struct {
	opts   Options
	logger zerolog.Logger
	events chan Event

	// inbound is held for reading while a read loop hands a message to the
	// application; Disconnect takes it for writing to wait those out.
	inbound sync.RWMutex

	mu         sync.Mutex
	state      State
	gen        uint64
	addr       string
	policy     *backoff.Policy
	link       *stream.Link
	monitor    *heartbeat.Monitor
	stopBeats  context.CancelFunc
	retry      *time.Timer
	cancelDial context.CancelFunc
}

// New creates a disconnected Connection.
func New(opts Options) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = TCPDialer{}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = heartbeat.DefaultTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Connection{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "client").Logger(),
		events: make(chan Event, opts.EventBuffer),
		policy: backoff.New(opts.Backoff),
	}
}

// Events returns the channel the connection reports on.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a link is up.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Attempts returns reconnect attempts since the last successful connect.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Attempts()
}

// Connect dials host:port, replacing any existing link. The attempt counter
// and backoff are reset. When the dial fails and auto-reconnect is enabled a
// retry is scheduled before the error is returned.
func (c *Connection) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c.mu.Lock()
	c.shutdownLocked()
	c.gen++
	gen := c.gen
	c.addr = addr
	c.policy.Reset()
	c.state = StateConnecting
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	c.cancelDial = cancel
	c.mu.Unlock()

	conn, err := c.opts.Dialer.Dial(dialCtx, addr)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrAborted
	}
	c.cancelDial = nil

	if err != nil {
		cerr := &ConnectionError{Op: "dial", Addr: addr, Err: err}
		evs := []Event{{Kind: EventStatus, Status: fmt.Sprintf("connect to %s failed: %v", addr, err), Err: cerr}}
		if c.opts.AutoReconnect {
			evs = append(evs, c.scheduleReconnectLocked(gen))
		} else {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		c.logger.Warn().Err(err).Str("addr", addr).Msg("connect failed")
		c.emit(evs...)
		return cerr
	}

	link, monitor := c.attachLocked(conn, gen)
	c.mu.Unlock()

	c.logger.Info().Str("addr", addr).Msg("connected")
	c.emit(Event{Kind: EventConnected, Status: "connected to " + addr})
	go c.readLoop(gen, link, monitor)
	return nil
}

// Send queues msg behind earlier sends.
func (c *Connection) Send(msg proto.Message) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	if err := link.Send(msg); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			return ErrNotConnected
		}
		return err
	}
	c.record(msg)
	return nil
}

// Flush waits until every message queued by Send has been written.
func (c *Connection) Flush(ctx context.Context) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	if err := link.Flush(ctx); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// SendText sends a text message from the configured username.
func (c *Connection) SendText(text string) error {
	return c.Send(proto.Text(c.opts.Username, text))
}

// Disconnect closes the link and cancels heartbeat, liveness and reconnect
// timers. In-flight dials and reads from the old link are ignored. It is safe
// to call more than once.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.shutdownLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	// No message read from the old link is delivered once this returns.
	c.inbound.Lock()
	c.inbound.Unlock()
}

// attachLocked installs a fresh link for conn and starts heartbeats and the
// liveness monitor. The caller starts the read loop.
func (c *Connection) attachLocked(conn net.Conn, gen uint64) (*stream.Link, *heartbeat.Monitor) {
	link := stream.New(conn, stream.Options{
		MaxFrameBytes: c.opts.MaxFrameBytes,
		WriteTimeout:  c.opts.WriteTimeout,
		Logger:        c.logger,
	})
	monitor := heartbeat.New(c.opts.HeartbeatTimeout)

	c.link = link
	c.monitor = monitor
	c.state = StateConnected

	if c.opts.Username != "" {
		if err := link.Send(proto.Message{Type: proto.TypeJoin, Sender: c.opts.Username}); err != nil {
			c.logger.Warn().Err(err).Msg("identify failed")
		}
	}

	addr := c.addr
	monitor.Start(func() {
		c.linkLost(gen, link, &ConnectionError{Op: "read", Addr: addr, Err: ErrHeartbeatTimeout})
	})

	beatCtx, stop := context.WithCancel(context.Background())
	c.stopBeats = stop
	go heartbeat.Emit(beatCtx, c.opts.HeartbeatInterval, func() {
		if err := link.Send(proto.Heartbeat()); err != nil {
			c.logger.Debug().Err(err).Msg("heartbeat not sent")
		}
	})

	return link, monitor
}

// shutdownLocked releases the link and every timer.
func (c *Connection) shutdownLocked() {
	c.releaseLinkLocked()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}

func (c *Connection) releaseLinkLocked() {
	if c.stopBeats != nil {
		c.stopBeats()
		c.stopBeats = nil
	}
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}
}

func (c *Connection) readLoop(gen uint64, link *stream.Link, monitor *heartbeat.Monitor) {
	for {
		msg, err := link.Read()
		if err != nil {
			if proto.IsProtocolError(err) {
				c.logger.Debug().Err(err).Msg("dropped malformed frame")
				continue
			}
			c.linkLost(gen, link, &ConnectionError{Op: "read", Addr: link.RemoteAddr(), Err: err})
			return
		}

		monitor.Touch()
		if msg.Type == proto.TypeHeartbeat {
			continue
		}
		if !c.deliver(gen, link, msg) {
			return
		}
	}
}

// deliver records and emits msg while link is still the current one. It
// reports false once the link has been replaced or closed.
func (c *Connection) deliver(gen uint64, link *stream.Link, msg proto.Message) bool {
	c.inbound.RLock()
	defer c.inbound.RUnlock()

	c.mu.Lock()
	current := gen == c.gen && c.link == link
	c.mu.Unlock()
	if !current {
		return false
	}

	c.record(msg)
	select {
	case c.events <- Event{Kind: EventMessage, Message: msg}:
		return true
	case <-link.Done():
		return false
	}
}

// linkLost handles a failed read, write or heartbeat on link. Only the first
// report for the current link has any effect.
func (c *Connection) linkLost(gen uint64, link *stream.Link, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.link != link {
		c.mu.Unlock()
		return
	}
	c.releaseLinkLocked()

	var evs []Event
	if c.opts.AutoReconnect {
		evs = append(evs,
			Event{Kind: EventStatus, Status: "connection lost", Err: cause},
			c.scheduleReconnectLocked(gen),
		)
	} else {
		c.state = StateDisconnected
		evs = append(evs, Event{Kind: EventDisconnected, Err: cause})
	}
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("connection lost")
	c.emit(evs...)
}

// scheduleReconnectLocked arms the retry timer, or gives up when the attempt
// budget is spent. It returns the event describing the outcome.
func (c *Connection) scheduleReconnectLocked(gen uint64) Event {
	delay, ok := c.policy.Next()
	if !ok {
		c.state = StateFailed
		return Event{Kind: EventDisconnected, Terminal: true, Err: ErrReconnectExhausted}
	}

	c.state = StateReconnecting
	c.retry = time.AfterFunc(delay.Actual, func() { c.reconnect(gen) })
	return Event{
		Kind:   EventStatus,
		Status: fmt.Sprintf("reconnecting in %s (backoff %s)", delay.Actual.Round(time.Millisecond), delay.Base),
		Delay:  delay,
	}
}

func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.policy.Failure()
	attempt := c.policy.Attempts()
	addr := c.addr
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	c.cancelDial = cancel
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Str("addr", addr).Msg("reconnecting")
	conn, err := c.opts.Dialer.Dial(ctx, addr)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		ev := c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		c.emit(ev)
		return
	}

	c.policy.Reset()
	link, monitor := c.attachLocked(conn, gen)
	c.mu.Unlock()

	c.logger.Info().Str("addr", addr).Msg("reconnected")
	c.emit(Event{Kind: EventConnected, Status: "reconnected to " + addr})
	go c.readLoop(gen, link, monitor)
}

func (c *Connection) record(msg proto.Message) {
	if c.opts.History == nil || msg.Type != proto.TypeText {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.opts.History.Append(ctx, store.FromMessage(msg, time.Now())); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record history")
	}
}

func (c *Connection) emit(evs ...Event) {
	for _, ev := range evs {
		c.events <- ev
	}
}
