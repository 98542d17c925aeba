// Package backoff computes reconnect delays: exponential growth up to a ceiling,
// randomized jitter and a bounded number of attempts.
package backoff

import (
	"errors"
	"math/rand/v2"
	"time"
)

// Config describes a backoff schedule.
type Config struct {
	Initial     time.Duration `mapstructure:"initial" yaml:"initial"`
	Max         time.Duration `mapstructure:"max" yaml:"max"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
	JitterMin   float64       `mapstructure:"jitter_min" yaml:"jitter_min"`
	JitterMax   float64       `mapstructure:"jitter_max" yaml:"jitter_max"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DefaultConfig returns 1s doubling to 60s with ±20% jitter and five attempts.
func DefaultConfig() Config {
	return Config{
		Initial:     time.Second,
		Max:         60 * time.Second,
		Multiplier:  2,
		JitterMin:   0.8,
		JitterMax:   1.2,
		MaxAttempts: 5,
	}
}

// Validate reports settings that would break monotonic growth or jitter bounds.
func (c Config) Validate() error {
	switch {
	case c.Initial <= 0:
		return errors.New("backoff: initial must be positive")
	case c.Max < c.Initial:
		return errors.New("backoff: max must not be below initial")
	case c.Multiplier < 1:
		return errors.New("backoff: multiplier must be at least 1")
	case c.JitterMin <= 0 || c.JitterMax < c.JitterMin:
		return errors.New("backoff: jitter range must satisfy 0 < min <= max")
	case c.MaxAttempts < 0:
		return errors.New("backoff: max attempts must not be negative")
	}
	return nil
}

// Delay is one scheduled wait.
type Delay struct {
	// Base is the backoff before jitter.
	Base time.Duration
	// Actual is Base scaled by the jitter factor.
	Actual time.Duration
	// Attempt is the number of failures recorded when the delay was computed.
	Attempt int
}

// Grow returns min(current*multiplier, ceiling).
func Grow(current time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > ceiling || next < current {
		return ceiling
	}
	return next
}

// Jitter scales base by factor.
func Jitter(base time.Duration, factor float64) time.Duration {
	return time.Duration(float64(base) * factor)
}

// Policy tracks attempts and the current backoff for one connection.
// It is not safe for concurrent use.
type Policy struct {
	cfg      Config
	current  time.Duration
	attempts int
	float    func() float64
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand overrides the uniform [0,1) source used for jitter.
func WithRand(f func() float64) Option {
	return func(p *Policy) {
		if f != nil {
			p.float = f
		}
	}
}

// New builds a policy. Invalid fields fall back to DefaultConfig values.
func New(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterMin <= 0 || cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMin, cfg.JitterMax = def.JitterMin, def.JitterMax
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	p := &Policy{cfg: cfg, current: cfg.Initial, float: rand.Float64}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Next grows the backoff to min(current*Multiplier, Max), stores it and returns
// it with jitter applied. It returns false once MaxAttempts failures have been
// recorded; MaxAttempts of zero means no limit.
func (p *Policy) Next() (Delay, bool) {
	if p.Exhausted() {
		return Delay{}, false
	}
	next := Grow(p.current, p.cfg.Multiplier, p.cfg.Max)
	factor := p.cfg.JitterMin + (p.cfg.JitterMax-p.cfg.JitterMin)*p.float()
	p.current = next

	return Delay{
		Base:    next,
		Actual:  Jitter(next, factor),
		Attempt: p.attempts,
	}, true
}

// Failure records a failed attempt.
func (p *Policy) Failure() {
	p.attempts++
}

// Reset restores the initial backoff and clears the attempt counter.
func (p *Policy) Reset() {
	p.current = p.cfg.Initial
	p.attempts = 0
}

// Attempts returns the number of failures since the last Reset.
func (p *Policy) Attempts() int {
	return p.attempts
}

// Current returns the backoff the next delay grows from.
func (p *Policy) Current() time.Duration {
	return p.current
}

// Exhausted reports whether no further attempts are allowed.
func (p *Policy) Exhausted() bool {
	return p.cfg.MaxAttempts > 0 && p.attempts >= p.cfg.MaxAttempts
}
