package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send while there is no live link.
	ErrNotConnected = errors.New("client: not connected")
	// ErrReconnectExhausted is reported once when the reconnect budget runs out.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrHeartbeatTimeout reports a server that stayed silent past the timeout.
	ErrHeartbeatTimeout = errors.New("client: heartbeat timeout")
	// ErrAborted is returned by Connect when Disconnect or another Connect
	// superseded it while dialing.
	ErrAborted = errors.New("client: connect aborted")
)

// ConnectionError is a transport failure: resolve, dial, read or write.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
