// Package osc implements a bit-exact OSC 1.0 wire encoder, a UDP transport,
// and a cooldown/TTL-aware outgoing message queue for a VRChat chatbox
// endpoint. Grounded in original_source's core/osc/{encoding,udp_sender,
// sender,smart_queue}.py.
package osc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAddress is returned by EncodeMessage when address does not
// start with "/".
var ErrInvalidAddress = errors.New("osc: address must start with '/'")

// Arg is one OSC argument. Supported concrete types are string, int32,
// float32, and bool.
type Arg interface{}

func pad4(data []byte) []byte {
	padding := (4 - len(data)%4) % 4
	if padding == 0 {
		return data
	}
	return append(data, make([]byte, padding)...)
}

// EncodeString returns a null-terminated, 4-byte-aligned UTF-8 encoding of
// value.
func EncodeString(value string) []byte {
	raw := append([]byte(value), 0)
	return pad4(raw)
}

// EncodeMessage builds a complete OSC 1.0 message: an address, a type-tag
// string, and the argument payloads, each 4-byte aligned.
func EncodeMessage(address string, args []Arg) ([]byte, error) {
	if address == "" || !strings.HasPrefix(address, "/") {
		return nil, ErrInvalidAddress
	}

	var tags strings.Builder
	tags.WriteByte(',')
	var payload []byte

	for _, arg := range args {
		switch v := arg.(type) {
		case bool:
			if v {
				tags.WriteByte('T')
			} else {
				tags.WriteByte('F')
			}
		case int32:
			tags.WriteByte('i')
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			payload = append(payload, b...)
		case int:
			tags.WriteByte('i')
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(int32(v)))
			payload = append(payload, b...)
		case float32:
			tags.WriteByte('f')
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, math.Float32bits(v))
			payload = append(payload, b...)
		case string:
			tags.WriteByte('s')
			payload = append(payload, EncodeString(v)...)
		default:
			return nil, fmt.Errorf("osc: unsupported arg type %T", arg)
		}
	}

	header := EncodeString(address)
	header = append(header, EncodeString(tags.String())...)
	return append(header, payload...), nil
}
