package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/client"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/server"
	"github.com/vovakirdan/wirechat-tcp/internal/store/sqlite"
)

func startChat(t *testing.T) *server.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := core.NewHub(core.Options{Logger: zerolog.Nop()})
	go hub.Run(ctx)

	srv := server.New(hub, server.Options{Logger: zerolog.Nop()})
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve(ctx)

	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return srv
}

func TestRunSendsLinesAndRecordsHistory(t *testing.T) {
	srv := startChat(t)
	addr := srv.Addr().(*net.TCPAddr)

	watcher, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer watcher.Close()
	frame, err := proto.Message{Type: proto.TypeJoin, Sender: "bob"}.Encode()
	require.NoError(t, err)
	_, err = watcher.Write(frame)
	require.NoError(t, err)

	reader := proto.NewReader(watcher, 0)
	require.NoError(t, watcher.SetReadDeadline(time.Now().Add(3*time.Second)))
	readUntil := func(typ proto.Type, sender string) proto.Message {
		for {
			msg, err := reader.ReadMessage()
			require.NoError(t, err)
			if msg.Type == typ && msg.Sender == sender {
				return msg
			}
		}
	}
	readUntil(proto.TypeUserList, "")

	dir := t.TempDir()
	flags := clientFlags{
		configPath:  filepath.Join(dir, "wirechat.yaml"),
		historyPath: filepath.Join(dir, "history.db"),
		noReconnect: true,
		logLevel:    "disabled",
	}
	in := strings.NewReader("hello bob\n/quit\nnot sent\n")

	err = run(context.Background(), flags, "127.0.0.1", addr.Port, "alice", in, io.Discard)
	require.NoError(t, err)

	got := readUntil(proto.TypeText, "alice")
	assert.Equal(t, "hello bob", got.Content)

	history, err := sqlite.New(flags.historyPath)
	require.NoError(t, err)
	defer history.Close()
	msgs, err := history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, proto.Text("alice", "hello bob"), msgs[0].Message())
}

func TestPrinterFormatsEvents(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out}

	p.event(client.Event{Kind: client.EventMessage, Message: proto.Message{Type: proto.TypeJoin, Sender: "bob", Content: "bob joined the chat"}})
	p.event(client.Event{Kind: client.EventMessage, Message: proto.Message{Type: proto.TypeUserList, Content: "alice,bob"}})
	p.event(client.Event{Kind: client.EventDisconnected, Err: client.ErrReconnectExhausted})
	p.users()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "* bob joined the chat", lines[0])
	assert.Equal(t, "* online: alice,bob", lines[1])
	assert.Contains(t, lines[2], "disconnected")
	assert.Equal(t, "* online: alice,bob", lines[3])
}

func TestRootCmdRejectsBadPort(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"localhost", "http", "alice"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}
