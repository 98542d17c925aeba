package core

import "errors"

var (
	// ErrHubStopped is returned when the hub goroutine is no longer running.
	ErrHubStopped = errors.New("hub stopped")
	// ErrEmptyName rejects identification without a username.
	ErrEmptyName = errors.New("username is required")
)
