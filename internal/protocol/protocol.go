// Package protocol defines the clipsync wire protocol.
//
// Every frame payload is one JSON-encoded Message, a flat envelope with a
// "type" tag. Binary item payloads are base64-encoded by encoding/json so
// image bytes are safe to embed. Framing and optional encryption live in
// package wire.
package protocol

import (
	"encoding/json"
	"fmt"

	"go.clipsync.dev/clipsync/internal/item"
)

// Type identifies the kind of message.
type Type string

const (
	// TypeAuth is the first message on every connection: the SHA-256 hex
	// digest of the shared secret plus the sender's device id.
	TypeAuth Type = "AUTH"
	// TypeAuthResult reports whether authentication succeeded.
	TypeAuthResult Type = "AUTH_RESULT"
	// TypePush carries one clipboard item.
	TypePush Type = "PUSH"
	// TypeAck acknowledges a received push by item id.
	TypeAck Type = "ACK"
	// TypeStatus notifies the relay that outbound sync is paused/resumed.
	TypeStatus Type = "STATUS"
	// TypeHistoryReq asks the relay for its retained history.
	TypeHistoryReq Type = "HISTORY_REQ"
	// TypeHistory carries retained history, newest first. Sent unsolicited
	// after a successful auth and in response to TypeHistoryReq.
	TypeHistory Type = "HISTORY"
	// TypePing / TypePong are the keepalive pair.
	TypePing Type = "PING"
	TypePong Type = "PONG"
	// TypeError reports a fatal per-connection error.
	TypeError Type = "ERROR"
)

// known is the closed set of message variants this version understands.
var known = map[Type]struct{}{
	TypeAuth: {}, TypeAuthResult: {}, TypePush: {}, TypeAck: {},
	TypeStatus: {}, TypeHistoryReq: {}, TypeHistory: {},
	TypePing: {}, TypePong: {}, TypeError: {},
}

// Error is a protocol-level decode failure. A peer that produces one is not
// trusted further this session: the connection is closed.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "protocol: " + e.Reason }

func errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type Type `json:"type"`

	// AUTH
	SecretHash string `json:"secret_hash,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`

	// AUTH_RESULT
	OK     bool   `json:"ok,omitempty"`
	Reason string `json:"reason,omitempty"`

	// PUSH
	Item *item.Item `json:"item,omitempty"`

	// ACK — the acknowledged item id
	ID string `json:"id,omitempty"`

	// STATUS
	Paused bool `json:"paused,omitempty"`

	// HISTORY — newest first
	Items []item.Item `json:"items,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Known reports whether the message variant is one this version understands.
// Unknown variants decode successfully and should be ignored, never treated
// as a protocol error — forward compatibility.
func (m *Message) Known() bool {
	_, ok := known[m.Type]
	return ok
}

// Encode serialises the message to JSON.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol encode: %w", err)
	}
	return b, nil
}

// Decode deserialises one message from raw JSON bytes. Malformed JSON, a
// missing type tag, or an item with an unrecognized kind fail with *Error.
// An unrecognized type tag is not an error; the result reports
// Known() == false.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errorf("malformed message: %v", err)
	}
	if m.Type == "" {
		return nil, errorf("missing type tag")
	}
	if !m.Known() {
		return &m, nil
	}
	switch m.Type {
	case TypePush:
		if m.Item == nil {
			return nil, errorf("PUSH without item")
		}
		if !m.Item.Kind.Known() {
			return nil, errorf("unknown item kind %q", m.Item.Kind)
		}
	case TypeHistory:
		for i := range m.Items {
			if !m.Items[i].Kind.Known() {
				return nil, errorf("unknown item kind %q in history", m.Items[i].Kind)
			}
		}
	}
	return &m, nil
}
