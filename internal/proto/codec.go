package proto

import (
	"encoding/binary"
	"errors"
)

// Frame layout, all integers little-endian:
//
//	[type:1][senderLen:2][sender][contentLen:4][content]

// Encode returns the wire form of m.
func (m Message) Encode() ([]byte, error) {
	return m.AppendTo(make([]byte, 0, m.Size()))
}

// AppendTo appends the wire form of m to dst.
func (m Message) AppendTo(dst []byte) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return dst, err
	}
	dst = append(dst, byte(m.Type))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(m.Sender)))
	dst = append(dst, m.Sender...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m.Content)))
	dst = append(dst, m.Content...)
	return dst, nil
}

// FrameLen returns the total length of the frame at the start of data.
// It returns ErrIncomplete while the length fields are not yet available.
func FrameLen(data []byte) (int, error) {
	if len(data) < 3 {
		return 0, ErrIncomplete
	}
	senderLen := int(binary.LittleEndian.Uint16(data[1:3]))
	contentAt := 3 + senderLen
	if len(data) < contentAt+4 {
		return 0, ErrIncomplete
	}
	contentLen := uint64(binary.LittleEndian.Uint32(data[contentAt : contentAt+4]))
	total := uint64(contentAt+4) + contentLen
	if total > uint64(maxInt) {
		return 0, &FrameError{Err: ErrFrameTooLarge}
	}
	return int(total), nil
}

// Decode parses the frame at the start of data. Bytes after the frame are ignored.
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return Message{}, &FrameError{Err: ErrCorruptFrame, Size: len(data)}
	}
	n, err := FrameLen(data)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return Message{}, &FrameError{Err: ErrCorruptFrame, Size: len(data)}
		}
		return Message{}, err
	}
	if n > len(data) {
		return Message{}, &FrameError{Err: ErrCorruptFrame, Size: len(data)}
	}

	t := Type(data[0])
	if !t.Valid() {
		return Message{}, &FrameError{Err: ErrUnknownType, Size: n}
	}

	senderLen := int(binary.LittleEndian.Uint16(data[1:3]))
	sender := data[3 : 3+senderLen]
	content := data[3+senderLen+4 : n]

	return Message{
		Type:    t,
		Sender:  string(sender),
		Content: string(content),
	}, nil
}

const maxInt = int(^uint(0) >> 1)
