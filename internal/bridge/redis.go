// Package bridge relays chat text between server instances over Redis pub/sub.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/utils"
)

const channelSuffix = "broadcast"

// Target receives messages published by other instances.
type Target interface {
	Relay(msg proto.Message) error
}

// Config selects the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// envelope tags a wire frame with the instance that published it so a node
// can skip its own messages.
type envelope struct {
	InstanceID string `json:"instance_id"`
	Frame      []byte `json:"frame"`
}

// RedisBridge publishes local text messages and relays remote ones to a Target.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	target Target
	active bool
}

// NewRedisBridge creates a bridge. Nothing is dialed until Start.
func NewRedisBridge(cfg Config, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Prefix + channelSuffix,
		instanceID: utils.NewID(),
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this node in published envelopes.
func (b *RedisBridge) InstanceID() string {
	return b.instanceID
}

// Start subscribes to the broadcast channel and relays remote messages to target.
func (b *RedisBridge) Start(target Target) error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.channel)
	// wait for subscription confirmation
	if _, err := sub.Receive(b.ctx); err != nil {
		sub.Close()
		return err
	}

	b.mu.Lock()
	b.target = target
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish sends msg to every other instance.
func (b *RedisBridge) Publish(ctx context.Context, msg proto.Message) error {
	if !b.Available() {
		return errors.New("bridge: not started")
	}
	data, err := b.encode(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is subscribed.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handlePayload(msg.Payload)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBridge) encode(msg proto.Message) ([]byte, error) {
	frame, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{InstanceID: b.instanceID, Frame: frame})
}

// handlePayload decodes an envelope and forwards messages from other nodes.
func (b *RedisBridge) handlePayload(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	msg, err := proto.Decode(env.Frame)
	if err != nil {
		b.logger.Warn().Err(err).Str("from_instance", env.InstanceID).Msg("dropped malformed relayed frame")
		return
	}

	b.mu.RLock()
	target := b.target
	b.mu.RUnlock()
	if target == nil {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("sender", msg.Sender).
		Msg("relaying message from redis")

	if err := target.Relay(msg); err != nil {
		b.logger.Warn().Err(err).Msg("relay to local hub failed")
	}
}
