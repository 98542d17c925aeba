package core

import (
	"context"
	"strconv"
	"testing"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

type discardPeer struct{}

func (discardPeer) Deliver(proto.Message) error { return nil }

func benchmarkBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(Options{})
	go hub.Run(ctx)

	sender := NewSessionID()
	_ = hub.Attach(sender, discardPeer{})
	_ = hub.Identify(sender, "sender")

	target := newChanPeer(1)
	targetID := NewSessionID()
	_ = hub.Attach(targetID, target)
	_ = hub.Identify(targetID, "target")

	for i := 1; i < recipients; i++ {
		id := NewSessionID()
		_ = hub.Attach(id, discardPeer{})
		_ = hub.Identify(id, "client"+strconv.Itoa(i))
	}
	if _, err := hub.Users(ctx); err != nil {
		b.Fatal(err)
	}
	// drop the join and user-list backlog
	for len(target.ch) > 0 {
		<-target.ch
	}

	msg := proto.Text("sender", "payload")

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = hub.Broadcast(ctx, msg, sender)
		<-target.ch
	}
}

func BenchmarkBroadcast_10(b *testing.B)  { benchmarkBroadcast(b, 10) }
func BenchmarkBroadcast_100(b *testing.B) { benchmarkBroadcast(b, 100) }
func BenchmarkBroadcast_500(b *testing.B) { benchmarkBroadcast(b, 500) }
