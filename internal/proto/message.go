package proto

import (
	"errors"
	"fmt"
	"math"
)

// Type identifies what a frame carries. The wire value is a single byte.
type Type uint8

const (
	// TypeText is a chat message.
	TypeText Type = iota
	// TypeJoin announces that a user entered the chat.
	TypeJoin
	// TypeLeave announces that a user left the chat.
	TypeLeave
	// TypeUserList carries the comma-joined list of online users.
	TypeUserList
	// TypeHeartbeat is a liveness probe with empty sender and content.
	TypeHeartbeat
)

// String returns the string representation of Type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeJoin:
		return "join"
	case TypeLeave:
		return "leave"
	case TypeUserList:
		return "user_list"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t belongs to the closed set of message types.
func (t Type) Valid() bool {
	return t <= TypeHeartbeat
}

const (
	// HeaderSize is the smallest possible frame: type, sender length, content length.
	HeaderSize = 1 + 2 + 4

	// MaxSenderLen is the largest sender that fits the 16-bit length field.
	MaxSenderLen = math.MaxUint16

	// MaxContentLen is the largest content that fits the 32-bit length field.
	MaxContentLen = math.MaxUint32
)

var (
	// ErrCorruptFrame reports a frame that is truncated or declares lengths past its end.
	ErrCorruptFrame = errors.New("proto: corrupt frame")
	// ErrUnknownType reports a type byte outside the known set.
	ErrUnknownType = errors.New("proto: unknown message type")
	// ErrFrameTooLarge reports a frame larger than the reader accepts.
	ErrFrameTooLarge = errors.New("proto: frame too large")
	// ErrIncomplete means more bytes are needed before the frame length is known.
	ErrIncomplete = errors.New("proto: incomplete frame")
	// ErrSenderTooLong reports a sender that does not fit the length field.
	ErrSenderTooLong = errors.New("proto: sender too long")
	// ErrContentTooLong reports content that does not fit the length field.
	ErrContentTooLong = errors.New("proto: content too long")
)

// FrameError is a protocol error: the frame is dropped but the stream stays usable.
type FrameError struct {
	Err  error
	Size int
}

func (e *FrameError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%v (%d bytes)", e.Err, e.Size)
	}
	return e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err describes a bad frame rather than a broken transport.
func IsProtocolError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// Message is a single chat protocol message.
type Message struct {
	Type    Type
	Sender  string
	Content string
}

// Text builds a chat message.
func Text(sender, content string) Message {
	return Message{Type: TypeText, Sender: sender, Content: content}
}

// Heartbeat builds a liveness probe.
func Heartbeat() Message {
	return Message{Type: TypeHeartbeat}
}

// Size returns the encoded size of m.
func (m Message) Size() int {
	return HeaderSize + len(m.Sender) + len(m.Content)
}

// Validate checks that m can be encoded.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return ErrUnknownType
	}
	if len(m.Sender) > MaxSenderLen {
		return ErrSenderTooLong
	}
	if uint64(len(m.Content)) > MaxContentLen {
		return ErrContentTooLong
	}
	return nil
}
