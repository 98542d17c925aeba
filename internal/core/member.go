package core

import (
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/utils"
)

// SessionID is the opaque handle of a session. The hub arena, the registry and
// the transport all refer to a session by handle rather than by pointer.
type SessionID string

// NewSessionID returns a fresh random handle.
func NewSessionID() SessionID {
	return SessionID(utils.NewID())
}

// Peer is the delivery side of a session. Deliver must not block.
type Peer interface {
	Deliver(msg proto.Message) error
}

// member is a session as seen by the hub.
type member struct {
	id   SessionID
	name string
	peer Peer
}
