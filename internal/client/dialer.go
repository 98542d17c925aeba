package client

import (
	"context"
	"net"
	"net/url"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// Dialer opens the byte stream a Connection runs the protocol over.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TCPDialer dials plain TCP, resolving host names.
type TCPDialer struct{}

func (TCPDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// WSDialer tunnels the protocol through WebSocket binary messages.
type WSDialer struct {
	// Path defaults to /ws.
	Path string
	// Secure selects wss.
	Secure bool
	// ReadLimit caps a single WebSocket message; defaults to proto.DefaultMaxFrameBytes.
	ReadLimit int64
}

func (d WSDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.Path}
	if d.Secure {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/ws"
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = proto.DefaultMaxFrameBytes
	}
	conn.SetReadLimit(limit)

	// The net.Conn outlives the dial context.
	return websocket.NetConn(context.Background(), conn, websocket.MessageBinary), nil
}
