package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/store/sqlite"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := startHub(t, Options{})

	alice, bob := NewSessionID(), NewSessionID()
	alicePeer, bobPeer := newChanPeer(16), newChanPeer(16)
	require.NoError(t, hub.Attach(alice, alicePeer))
	require.NoError(t, hub.Attach(bob, bobPeer))
	require.NoError(t, hub.Identify(alice, "alice"))
	require.NoError(t, hub.Identify(bob, "bob"))

	// Bob sees his own join.
	join := mustMessage(t, bobPeer.ch, proto.TypeJoin)
	assert.Equal(t, "bob", join.Sender)
	assert.Equal(t, "bob joined the chat", join.Content)
	list := mustMessage(t, bobPeer.ch, proto.TypeUserList)
	assert.Equal(t, "alice,bob", list.Content)

	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("alice", "hi"), alice))
	msg := mustMessage(t, bobPeer.ch, proto.TypeText)
	assert.Equal(t, proto.Text("alice", "hi"), msg)

	require.NoError(t, hub.Detach(alice))
	left := mustMessage(t, bobPeer.ch, proto.TypeLeave)
	assert.Equal(t, "alice", left.Sender)
	assert.Equal(t, "alice left the chat", left.Content)
	assert.Equal(t, []string{"bob"}, syncHub(t, hub))
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	var j journal
	hub := startHub(t, Options{})

	ids := map[string]SessionID{}
	for _, name := range []string{"a", "b", "c"} {
		id := NewSessionID()
		ids[name] = id
		require.NoError(t, hub.Attach(id, j.peer(name)))
		require.NoError(t, hub.Identify(id, name))
	}
	syncHub(t, hub)
	before := len(j.entries())

	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("a", "yo"), ids["a"]))
	syncHub(t, hub)

	var got []string
	for _, d := range j.entries()[before:] {
		got = append(got, d.to)
		assert.Equal(t, proto.Text("a", "yo"), d.msg)
	}
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestHubJoinLeaveSequence(t *testing.T) {
	var j journal
	hub := startHub(t, Options{})

	alice, bob := NewSessionID(), NewSessionID()
	require.NoError(t, hub.Attach(alice, j.peer("alice")))
	require.NoError(t, hub.Attach(bob, j.peer("bob")))
	require.NoError(t, hub.Identify(alice, "alice"))
	require.NoError(t, hub.Identify(bob, "bob"))
	require.NoError(t, hub.Detach(alice))
	syncHub(t, hub)

	join := func(n string) proto.Message {
		return proto.Message{Type: proto.TypeJoin, Sender: n, Content: n + " joined the chat"}
	}
	users := func(c string) proto.Message {
		return proto.Message{Type: proto.TypeUserList, Content: c}
	}
	leave := proto.Message{Type: proto.TypeLeave, Sender: "alice", Content: "alice left the chat"}

	want := []delivery{
		{"alice", join("alice")},
		{"alice", users("alice")},
		{"alice", join("bob")}, {"bob", join("bob")},
		{"alice", users("alice,bob")}, {"bob", users("alice,bob")},
		{"bob", leave},
		{"bob", users("bob")},
	}
	assert.Equal(t, want, j.entries())
}

func TestHubDetachUnregisteredIsSilent(t *testing.T) {
	var j journal
	hub := startHub(t, Options{})

	watcher, ghost := NewSessionID(), NewSessionID()
	require.NoError(t, hub.Attach(watcher, j.peer("watcher")))
	require.NoError(t, hub.Identify(watcher, "watcher"))
	require.NoError(t, hub.Attach(ghost, j.peer("ghost")))
	syncHub(t, hub)
	before := len(j.entries())

	require.NoError(t, hub.Detach(ghost))
	require.NoError(t, hub.Detach(NewSessionID()))
	syncHub(t, hub)
	assert.Len(t, j.entries(), before)
}

func TestHubUnidentifiedSessionReceivesNothing(t *testing.T) {
	hub := startHub(t, Options{})

	lurker := newChanPeer(4)
	require.NoError(t, hub.Attach(NewSessionID(), lurker))
	speaker := NewSessionID()
	require.NoError(t, hub.Attach(speaker, newChanPeer(4)))
	require.NoError(t, hub.Identify(speaker, "speaker"))
	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("speaker", "anyone?"), speaker))
	syncHub(t, hub)

	assert.Empty(t, lurker.ch)
}

func TestHubLastIdentifyWins(t *testing.T) {
	var j journal
	hub := startHub(t, Options{})

	first, second := NewSessionID(), NewSessionID()
	require.NoError(t, hub.Attach(first, j.peer("first")))
	require.NoError(t, hub.Identify(first, "alice"))
	require.NoError(t, hub.Attach(second, j.peer("second")))
	require.NoError(t, hub.Identify(second, "alice"))
	assert.Equal(t, []string{"alice"}, syncHub(t, hub))
	before := len(j.entries())

	// The displaced session no longer owns the name, so its departure is silent.
	require.NoError(t, hub.Detach(first))
	assert.Equal(t, []string{"alice"}, syncHub(t, hub))
	assert.Len(t, j.entries(), before)

	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("x", "y"), ""))
	syncHub(t, hub)
	entries := j.entries()
	require.Len(t, entries, before+1)
	assert.Equal(t, "second", entries[before].to)
}

func TestHubFailingPeerDoesNotBlockOthers(t *testing.T) {
	hub := startHub(t, Options{})

	stuck := newChanPeer(0)
	healthy := newChanPeer(16)
	a, b := NewSessionID(), NewSessionID()
	require.NoError(t, hub.Attach(a, stuck))
	require.NoError(t, hub.Identify(a, "a"))
	require.NoError(t, hub.Attach(b, healthy))
	require.NoError(t, hub.Identify(b, "b"))

	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("c", "ping"), ""))
	msg := mustMessage(t, healthy.ch, proto.TypeText)
	assert.Equal(t, "ping", msg.Content)
}

func TestHubIdentifyRequiresName(t *testing.T) {
	hub := startHub(t, Options{})
	assert.ErrorIs(t, hub.Identify(NewSessionID(), ""), ErrEmptyName)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []proto.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg proto.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestHubTextIsPersistedAndPublished(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	pub := &recordingPublisher{}
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	hub := startHub(t, Options{Store: st, Relay: pub, Now: func() time.Time { return at }})

	id := NewSessionID()
	require.NoError(t, hub.Attach(id, newChanPeer(8)))
	require.NoError(t, hub.Identify(id, "alice"))
	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("alice", "saved"), id))
	require.NoError(t, hub.Relay(proto.Text("remote", "not saved")))
	syncHub(t, hub)

	recent, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "saved", recent[0].Content)
	assert.True(t, recent[0].CreatedAt.Equal(at))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []proto.Message{proto.Text("alice", "saved")}, pub.msgs)
}

func TestHubPublishFailureStillDelivers(t *testing.T) {
	hub := startHub(t, Options{Relay: &recordingPublisher{err: errors.New("redis down")}})

	peer := newChanPeer(8)
	id := NewSessionID()
	require.NoError(t, hub.Attach(id, peer))
	require.NoError(t, hub.Identify(id, "bob"))
	require.NoError(t, hub.Broadcast(context.Background(), proto.Text("alice", "hello"), ""))
	mustMessage(t, peer.ch, proto.TypeText)
}

func TestHubRelayReachesEveryone(t *testing.T) {
	hub := startHub(t, Options{})

	peer := newChanPeer(8)
	id := NewSessionID()
	require.NoError(t, hub.Attach(id, peer))
	require.NoError(t, hub.Identify(id, "bob"))
	require.NoError(t, hub.Relay(proto.Text("remote", "from afar")))

	msg := mustMessage(t, peer.ch, proto.TypeText)
	assert.Equal(t, "remote", msg.Sender)
}

func TestHubStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(Options{})
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	assert.ErrorIs(t, hub.Attach(NewSessionID(), newChanPeer(1)), ErrHubStopped)
	_, err := hub.Users(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
}
