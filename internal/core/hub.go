package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/store"
)

const commandBuffer = 64

// Publisher forwards locally originated text messages to other server instances.
type Publisher interface {
	Publish(ctx context.Context, msg proto.Message) error
}

// Options configures a Hub. Every field is optional.
type Options struct {
	Store   store.MessageStore
	Relay   Publisher
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Hub owns the session arena and the username registry. All mutation happens
// on the goroutine running Run; the exported methods only enqueue commands.
type Hub struct {
	cmds chan command
	done chan struct{}

	store   store.MessageStore
	relay   Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	members  map[SessionID]*member
	registry *Registry
}

// NewHub creates a hub. Call Run exactly once to start processing.
func NewHub(opts Options) *Hub {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		cmds:     make(chan command, commandBuffer),
		done:     make(chan struct{}),
		store:    opts.Store,
		relay:    opts.Relay,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "hub").Logger(),
		now:      now,
		members:  make(map[SessionID]*member),
		registry: NewRegistry(),
	}
}

// Run processes commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.cmds:
			h.handle(cmd)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Attach adds a session to the arena. It receives nothing until identified.
func (h *Hub) Attach(id SessionID, peer Peer) error {
	return h.submit(command{kind: commandAttach, id: id, peer: peer})
}

// Identify registers name for the session, replacing any previous holder, then
// announces the join and the new user list to every registered session.
func (h *Hub) Identify(id SessionID, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	return h.submit(command{kind: commandIdentify, id: id, name: name})
}

// Detach removes the session. If it still holds its username the departure
// and the new user list are announced.
func (h *Hub) Detach(id SessionID) error {
	return h.submit(command{kind: commandDetach, id: id})
}

// Broadcast delivers msg to every registered session except exclude. Text
// messages are also persisted and published to the relay on the caller's
// goroutine.
func (h *Hub) Broadcast(ctx context.Context, msg proto.Message, exclude SessionID) error {
	if msg.Type == proto.TypeText {
		h.persist(ctx, msg)
		h.publish(ctx, msg)
	}
	return h.submit(command{kind: commandBroadcast, message: msg, exclude: exclude})
}

// Relay delivers a message that originated on another instance to every
// local registered session. It is neither persisted nor republished.
func (h *Hub) Relay(msg proto.Message) error {
	h.metrics.Relayed("in")
	return h.submit(command{kind: commandBroadcast, message: msg})
}

// Users returns the registered usernames, sorted.
func (h *Hub) Users(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.submitContext(ctx, command{kind: commandUsers, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubStopped
	}
}

func (h *Hub) submit(cmd command) error {
	return h.submitContext(context.Background(), cmd)
}

func (h *Hub) submitContext(ctx context.Context, cmd command) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.cmds <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(cmd command) {
	switch cmd.kind {
	case commandAttach:
		h.members[cmd.id] = &member{id: cmd.id, peer: cmd.peer}
	case commandIdentify:
		h.identify(cmd.id, cmd.name)
	case commandDetach:
		h.detach(cmd.id)
	case commandBroadcast:
		h.fanout(cmd.message, cmd.exclude)
	case commandUsers:
		cmd.reply <- h.registry.Names()
	}
}

func (h *Hub) identify(id SessionID, name string) {
	m, ok := h.members[id]
	if !ok {
		// detached before the identify command was processed
		return
	}
	if m.name != "" && m.name != name {
		h.registry.Remove(m.name, id)
	}
	m.name = name

	if prev, replaced := h.registry.Add(name, id); replaced {
		if old, ok := h.members[prev]; ok {
			old.name = ""
		}
		h.logger.Info().Str("user", name).Str("session", string(prev)).Msg("username taken over by new session")
	}
	h.metrics.SetUsers(h.registry.Len())
	h.logger.Info().Str("user", name).Str("session", string(id)).Msg("user joined")

	h.fanout(proto.Message{Type: proto.TypeJoin, Sender: name, Content: name + " joined the chat"}, "")
	h.publishUserList()
}

func (h *Hub) detach(id SessionID) {
	m, ok := h.members[id]
	if !ok {
		return
	}
	delete(h.members, id)
	if m.name == "" || !h.registry.Remove(m.name, id) {
		return
	}
	h.metrics.SetUsers(h.registry.Len())
	h.logger.Info().Str("user", m.name).Str("session", string(id)).Msg("user left")

	h.fanout(proto.Message{Type: proto.TypeLeave, Sender: m.name, Content: m.name + " left the chat"}, "")
	h.publishUserList()
}

func (h *Hub) publishUserList() {
	h.fanout(proto.Message{Type: proto.TypeUserList, Content: h.registry.UserList()}, "")
}

// fanout delivers to registered sessions independently; a failing peer is
// skipped.
func (h *Hub) fanout(msg proto.Message, exclude SessionID) {
	for _, name := range h.registry.Names() {
		id, _ := h.registry.Lookup(name)
		if id == exclude {
			continue
		}
		m, ok := h.members[id]
		if !ok {
			continue
		}
		if err := m.peer.Deliver(msg); err != nil {
			h.metrics.DeliveryFailed()
			h.logger.Warn().Err(err).Str("user", name).Str("type", msg.Type.String()).Msg("delivery skipped")
			continue
		}
		h.metrics.FrameSent(msg.Type)
	}
}

func (h *Hub) persist(ctx context.Context, msg proto.Message) {
	if h.store == nil {
		return
	}
	if err := h.store.Append(ctx, store.FromMessage(msg, h.now())); err != nil {
		h.logger.Error().Err(err).Str("sender", msg.Sender).Msg("failed to store message")
	}
}

func (h *Hub) publish(ctx context.Context, msg proto.Message) {
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, msg); err != nil {
		h.logger.Warn().Err(err).Msg("relay publish failed")
		return
	}
	h.metrics.Relayed("out")
}
