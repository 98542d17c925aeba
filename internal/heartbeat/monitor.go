// Package heartbeat implements timer-driven liveness detection shared by the
// client connection and the server session.
package heartbeat

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultInterval is how often a client emits heartbeats.
	DefaultInterval = 5 * time.Second
	// DefaultTimeout is how long a peer may stay silent before it is considered dead.
	DefaultTimeout = 15 * time.Second
)

// State is the lifecycle of a Monitor.
type State int

const (
	// StateIdle means the monitor has not been started or was stopped.
	StateIdle State = iota
	// StateArmed means the check timer is running.
	StateArmed
	// StateExpired means the timeout elapsed and the expiry callback ran.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCheckInterval overrides how often the silence window is checked.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkEvery = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor tracks the last time traffic was seen and fires once when the peer
// has been silent for longer than the timeout. It never retries; reconnecting
// is up to the owner.
type Monitor struct {
	timeout    time.Duration
	checkEvery time.Duration
	now        func() time.Time

	mu       sync.Mutex
	state    State
	last     time.Time
	timer    *time.Timer
	epoch    uint64
	onExpire func()
}

// New creates an idle monitor. timeout <= 0 selects DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{
		timeout:    timeout,
		checkEvery: timeout / 3,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checkEvery <= 0 {
		m.checkEvery = timeout
	}
	return m
}

// Start arms the monitor. onExpire runs at most once, on its own goroutine.
// Starting an armed monitor is a no-op.
func (m *Monitor) Start(onExpire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateArmed {
		return
	}
	m.state = StateArmed
	m.last = m.now()
	m.onExpire = onExpire
	m.epoch++
	m.armLocked()
}

func (m *Monitor) armLocked() {
	epoch := m.epoch
	m.timer = time.AfterFunc(m.checkEvery, func() { m.check(epoch) })
}

// Touch records inbound traffic and restarts the silence window.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.last = m.now()
	m.mu.Unlock()
}

// Stop disarms the monitor and cancels any pending expiry.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.state == StateArmed {
		m.state = StateIdle
	}
	m.onExpire = nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastSeen returns when traffic was last recorded.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Timeout returns the silence window.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

func (m *Monitor) check(epoch uint64) {
	m.mu.Lock()
	if m.state != StateArmed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if m.now().Sub(m.last) <= m.timeout {
		m.armLocked()
		m.mu.Unlock()
		return
	}

	m.state = StateExpired
	m.timer = nil
	fn := m.onExpire
	m.onExpire = nil
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Emit calls beat every interval until ctx is done.
func Emit(ctx context.Context, interval time.Duration, beat func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			beat()
		case <-ctx.Done():
			return
		}
	}
}
