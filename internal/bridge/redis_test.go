package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// mockTarget records messages forwarded from the bridge.
type mockTarget struct {
	received []proto.Message
}

func (m *mockTarget) Relay(msg proto.Message) error {
	m.received = append(m.received, msg)
	return nil
}

func newTestBridge(target Target) *RedisBridge {
	b := NewRedisBridge(Config{Addr: "127.0.0.1:0", Prefix: "test:"}, zerolog.Nop())
	b.target = target
	return b
}

func TestEnvelopeCarriesWireFrame(t *testing.T) {
	b := newTestBridge(nil)

	data, err := b.encode(proto.Text("alice", "hello"))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, b.InstanceID(), env.InstanceID)

	msg, err := proto.Decode(env.Frame)
	require.NoError(t, err)
	assert.Equal(t, proto.Text("alice", "hello"), msg)
}

func TestRemoteMessagesAreRelayed(t *testing.T) {
	target := &mockTarget{}
	local := newTestBridge(target)
	remote := newTestBridge(nil)

	data, err := remote.encode(proto.Text("bob", "from elsewhere"))
	require.NoError(t, err)
	local.handlePayload(string(data))

	assert.Equal(t, []proto.Message{proto.Text("bob", "from elsewhere")}, target.received)
}

func TestOwnMessagesAreSkipped(t *testing.T) {
	target := &mockTarget{}
	b := newTestBridge(target)

	data, err := b.encode(proto.Text("alice", "echo"))
	require.NoError(t, err)
	b.handlePayload(string(data))

	assert.Empty(t, target.received)
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	target := &mockTarget{}
	b := newTestBridge(target)

	b.handlePayload("not json")
	bad, err := json.Marshal(envelope{InstanceID: "other", Frame: []byte{9, 0}})
	require.NoError(t, err)
	b.handlePayload(string(bad))

	assert.Empty(t, target.received)
}

func TestPublishBeforeStart(t *testing.T) {
	b := newTestBridge(nil)
	assert.False(t, b.Available())
	assert.Error(t, b.Publish(context.Background(), proto.Text("a", "b")))
	assert.NoError(t, b.Stop())
}
