package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.clipsync.dev/clipsync/internal/item"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	b, err := Encode(m)
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)
	return out
}

func TestRoundTripAllVariants(t *testing.T) {
	push := item.Item{
		ID:             "dev-a:7",
		Kind:           item.KindImage,
		Data:           []byte{0x89, 0x50, 0x4e, 0x47},
		MIME:           "image/png",
		OriginDeviceID: "dev-a",
		CreatedAt:      1700000000123,
	}
	msgs := []*Message{
		{Type: TypeAuth, SecretHash: "abcd", DeviceID: "dev-a"},
		{Type: TypeAuthResult, OK: true},
		{Type: TypeAuthResult, OK: false, Reason: "auth_rejected"},
		{Type: TypePush, Item: &push},
		{Type: TypeAck, ID: "dev-a:7"},
		{Type: TypeStatus, Paused: true},
		{Type: TypeHistoryReq},
		{Type: TypeHistory, Items: []item.Item{push, {ID: "dev-b:1", Kind: item.KindText, Text: "hi", OriginDeviceID: "dev-b", CreatedAt: 1}}},
		{Type: TypePing},
		{Type: TypePong},
		{Type: TypeError, Error: "boom"},
	}
	for _, m := range msgs {
		got := roundTrip(t, m)
		assert.Equal(t, m, got, "variant %s", m.Type)
	}
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	m, err := Decode([]byte(`{"type":"FUTURE_THING","whatever":1}`))
	require.NoError(t, err)
	assert.False(t, m.Known())
	assert.Equal(t, Type("FUTURE_THING"), m.Type)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"missing type":      `{"ok":true}`,
		"push without item": `{"type":"PUSH"}`,
		"bad item kind":     `{"type":"PUSH","item":{"id":"x","kind":"video","origin_device_id":"d","created_at":1}}`,
		"bad history kind":  `{"type":"HISTORY","items":[{"id":"x","kind":"blob","origin_device_id":"d","created_at":1}]}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		var perr *Error
		require.ErrorAs(t, err, &perr, name)
	}
}
