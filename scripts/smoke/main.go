package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/vovakirdan/wirechat-tcp/internal/client"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:9000", "server address (host:port)")
	ws := flag.Bool("ws", false, "connect through the WebSocket endpoint; addr is then the HTTP address")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse port: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var dialer client.Dialer = client.TCPDialer{}
	if *ws {
		dialer = client.WSDialer{}
	}

	sender := client.New(client.Options{Username: "smoke-sender", Dialer: dialer})
	receiver := client.New(client.Options{Username: "smoke-receiver", Dialer: dialer})
	defer sender.Disconnect()
	defer receiver.Disconnect()

	// Events must be drained; only the receiver's are inspected.
	go func() {
		for range sender.Events() {
		}
	}()

	if err := receiver.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("connect receiver: %w", err)
	}
	if err := waitFor(ctx, receiver, proto.TypeUserList, ""); err != nil {
		return fmt.Errorf("receiver identify: %w", err)
	}

	if err := sender.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("connect sender: %w", err)
	}
	if err := waitFor(ctx, receiver, proto.TypeJoin, "smoke-sender"); err != nil {
		return fmt.Errorf("sender join: %w", err)
	}

	if err := sender.SendText(*text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := waitFor(ctx, receiver, proto.TypeText, "smoke-sender"); err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	fmt.Println("smoke test passed")
	return nil
}

func waitFor(ctx context.Context, conn *client.Connection, typ proto.Type, sender string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-conn.Events():
			switch ev.Kind {
			case client.EventDisconnected:
				if ev.Err != nil {
					return ev.Err
				}
				return errors.New("disconnected")
			case client.EventMessage:
				fmt.Printf("received %s from %q: %q\n", ev.Message.Type, ev.Message.Sender, ev.Message.Content)
				if ev.Message.Type == typ && ev.Message.Sender == sender {
					return nil
				}
			}
		}
	}
}
