package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// echoWS accepts a WebSocket at /ws and echoes every frame back.
func echoWS(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := websocket.NetConn(r.Context(), ws, websocket.MessageBinary)
		defer conn.Close()
		reader := proto.NewReader(conn, 0)
		for {
			msg, err := reader.ReadMessage()
			if err != nil {
				return
			}
			frame, _ := msg.Encode()
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWSDialerRoundTrip(t *testing.T) {
	srv := echoWS(t)
	addr := strings.TrimPrefix(srv.URL, "http://")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := WSDialer{}.Dial(ctx, addr)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := proto.Text("alice", "over websocket").Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := proto.NewReader(conn, 0).ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, proto.Text("alice", "over websocket"), msg)
}

func TestConnectionOverWebSocket(t *testing.T) {
	srv := echoWS(t)
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	c := New(Options{Username: "alice", Dialer: WSDialer{}, Logger: zerolog.Nop()})
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), host, port))

	require.NoError(t, c.SendText("echo me"))
	// the identify frame is echoed first
	ev := waitEvent(t, c, EventMessage)
	assert.Equal(t, proto.TypeJoin, ev.Message.Type)
	ev = waitEvent(t, c, EventMessage)
	assert.Equal(t, proto.Text("alice", "echo me"), ev.Message)
}

func TestTCPDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = TCPDialer{}.Dial(context.Background(), addr)
	assert.Error(t, err)
}
