package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

var errPeerFull = errors.New("peer full")

// chanPeer buffers deliveries on a channel and fails when it is full.
type chanPeer struct {
	ch chan proto.Message
}

func newChanPeer(size int) *chanPeer {
	return &chanPeer{ch: make(chan proto.Message, size)}
}

func (p *chanPeer) Deliver(msg proto.Message) error {
	select {
	case p.ch <- msg:
		return nil
	default:
		return errPeerFull
	}
}

// delivery is one message observed by a named recipient.
type delivery struct {
	to  string
	msg proto.Message
}

// journal records deliveries to every peer in the order the hub made them.
type journal struct {
	mu  sync.Mutex
	log []delivery
}

func (j *journal) peer(name string) Peer {
	return journalPeer{j: j, name: name}
}

func (j *journal) entries() []delivery {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]delivery(nil), j.log...)
}

type journalPeer struct {
	j    *journal
	name string
}

func (p journalPeer) Deliver(msg proto.Message) error {
	p.j.mu.Lock()
	p.j.log = append(p.j.log, delivery{to: p.name, msg: msg})
	p.j.mu.Unlock()
	return nil
}

func mustMessage(t *testing.T, ch <-chan proto.Message, typ proto.Type) proto.Message {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("expected %v message not received", typ)
			return proto.Message{}
		}
	}
}

// syncHub waits until the hub has processed every command submitted so far.
func syncHub(t *testing.T, hub *Hub) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	names, err := hub.Users(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	return names
}

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(opts)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}
