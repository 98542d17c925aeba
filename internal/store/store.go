package store

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// StoredMessage is a persisted chat message.
type StoredMessage struct {
	ID        int64
	Type      proto.Type
	Sender    string
	Content   string
	CreatedAt time.Time
}

// FromMessage builds a record for msg stamped with at.
func FromMessage(msg proto.Message, at time.Time) StoredMessage {
	return StoredMessage{
		Type:      msg.Type,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: at,
	}
}

// Message converts the record back to its wire form.
func (m StoredMessage) Message() proto.Message {
	return proto.Message{Type: m.Type, Sender: m.Sender, Content: m.Content}
}

// MessageStore is an append-only message history.
type MessageStore interface {
	// Append persists a message.
	Append(ctx context.Context, msg StoredMessage) error

	// Recent returns up to limit messages, newest first.
	Recent(ctx context.Context, limit int) ([]StoredMessage, error)

	// Since returns messages created strictly after ts, oldest first.
	Since(ctx context.Context, ts time.Time) ([]StoredMessage, error)

	// Prune deletes messages created before cutoff and reports how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
