package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vovakirdan/wirechat-tcp/internal/backoff"
)

// ErrInvalidPort reports a port outside 1..65535 or a non-numeric port.
var ErrInvalidPort = errors.New("port must be a number between 1 and 65535")

// Error is a startup configuration problem reported to the operator.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds server and client configuration values.
type Config struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	HTTPAddr          string        `mapstructure:"http_addr" yaml:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	MaxFrameBytes     int           `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	MaxPendingFrames  int           `mapstructure:"max_pending_frames" yaml:"max_pending_frames"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`

	DatabasePath     string        `mapstructure:"database_path" yaml:"database_path"`
	HistoryRetention time.Duration `mapstructure:"history_retention" yaml:"history_retention"`

	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// RedisConfig enables the cross-instance relay when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// ReconnectConfig controls client reconnection.
type ReconnectConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	backoff.Config `mapstructure:",squash" yaml:",inline"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              9000,
		HTTPAddr:          "",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		WriteTimeout:      10 * time.Second,
		DialTimeout:       5 * time.Second,
		MaxFrameBytes:     1 << 20,
		MaxPendingFrames:  256,
		MessagesPerMinute: 0,
		DatabasePath:      "chat_history.db",
		HistoryRetention:  30 * 24 * time.Hour,
		Redis: RedisConfig{
			Prefix: "wirechat:",
		},
		Reconnect: ReconnectConfig{
			Enabled: true,
			Config:  backoff.DefaultConfig(),
		},
	}
}

// ListenAddr returns the TCP address the chat server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate reports the first invalid setting as *Error.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &Error{Field: "port", Err: ErrInvalidPort}
	}
	if c.HeartbeatTimeout <= 0 {
		return &Error{Field: "heartbeat_timeout", Err: errors.New("must be positive")}
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.HeartbeatTimeout {
		return &Error{Field: "heartbeat_interval", Err: errors.New("must be positive and shorter than heartbeat_timeout")}
	}
	if c.MaxFrameBytes < 7 {
		return &Error{Field: "max_frame_bytes", Err: errors.New("must hold at least one empty frame")}
	}
	if c.MessagesPerMinute < 0 {
		return &Error{Field: "messages_per_minute", Err: errors.New("must not be negative")}
	}
	if err := c.Reconnect.Config.Validate(); err != nil {
		return &Error{Field: "reconnect", Err: err}
	}
	return nil
}

// ParsePort parses a command-line port argument.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, &Error{Field: "port", Err: fmt.Errorf("%q: %w", s, ErrInvalidPort)}
	}
	return port, nil
}
