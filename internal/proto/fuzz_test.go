package proto

import (
	"bytes"
	"testing"
)

// FuzzDecode checks that arbitrary input never panics and that anything
// accepted re-encodes to the same prefix.
func FuzzDecode(f *testing.F) {
	seed, _ := Text("alice", "hello").Encode()
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{4, 0, 0, 0, 0, 0, 0})
	f.Add([]byte{0, 0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			return
		}
		out, err := msg.Encode()
		if err != nil {
			t.Fatalf("decoded message does not encode: %v", err)
		}
		if !bytes.Equal(out, data[:len(out)]) {
			t.Fatalf("re-encoded frame differs from input")
		}
	})
}

// FuzzReader checks that the stream reader terminates on arbitrary input.
func FuzzReader(f *testing.F) {
	seed, _ := Text("bob", "hi").Encode()
	f.Add(append(seed, seed...), 16)

	f.Fuzz(func(t *testing.T, data []byte, limit int) {
		r := NewReader(bytes.NewReader(data), limit%4096)
		for i := 0; i < len(data)+2; i++ {
			_, err := r.ReadMessage()
			if err != nil && !IsProtocolError(err) {
				return
			}
		}
	})
}
