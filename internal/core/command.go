package core

import "github.com/vovakirdan/wirechat-tcp/internal/proto"

// commandKind describes what a caller asks the hub to do.
type commandKind int

const (
	// commandAttach adds a session to the arena without registering a name.
	commandAttach commandKind = iota
	// commandIdentify registers the session's username and announces it.
	commandIdentify
	// commandDetach removes the session and announces its departure.
	commandDetach
	// commandBroadcast fans a message out to registered sessions.
	commandBroadcast
	// commandUsers snapshots the registered usernames.
	commandUsers
)

// command is an action serialized through the hub goroutine.
type command struct {
	kind    commandKind
	id      SessionID
	peer    Peer
	name    string
	message proto.Message
	exclude SessionID
	reply   chan []string
}
