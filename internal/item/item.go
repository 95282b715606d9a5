// Package item defines the clipboard item value type carried through the
// sync engine, the relay, and the history log.
package item

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Kind identifies the payload variant of an Item.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Known reports whether k is one of the closed set of payload variants.
func (k Kind) Known() bool {
	return k == KindText || k == KindImage
}

// DefaultMaxImageBytes bounds image payloads unless the caller configures
// its own limit.
const DefaultMaxImageBytes = 8 * 1024 * 1024

var (
	// ErrEmptyText is returned for a text item that is empty after trimming.
	ErrEmptyText = errors.New("empty text payload")
	// ErrPayloadTooLarge is returned when an image payload exceeds the
	// configured bound. The item is rejected, never truncated or queued.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Item is one clipboard change. Items are immutable after creation; the only
// place they are retained is the history log, until evicted.
type Item struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	Text           string `json:"text,omitempty"`
	Data           []byte `json:"data,omitempty"` // base64 on the wire via encoding/json
	MIME           string `json:"mime_type,omitempty"`
	OriginDeviceID string `json:"origin_device_id"`
	CreatedAt      int64  `json:"created_at"` // unix milliseconds
}

// Validate checks the payload invariants. maxImageBytes <= 0 selects
// DefaultMaxImageBytes.
func (it *Item) Validate(maxImageBytes int) error {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	switch it.Kind {
	case KindText:
		if strings.TrimSpace(it.Text) == "" {
			return ErrEmptyText
		}
	case KindImage:
		if len(it.Data) == 0 {
			return errors.New("empty image payload")
		}
		if it.MIME == "" {
			return errors.New("image payload without mime type")
		}
		if len(it.Data) > maxImageBytes {
			return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(it.Data), maxImageBytes)
		}
	default:
		return fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return nil
}

// Before reports whether it orders before other under last-write-wins:
// by CreatedAt, with the origin device id as tiebreak.
func (it *Item) Before(other *Item) bool {
	if it.CreatedAt != other.CreatedAt {
		return it.CreatedAt < other.CreatedAt
	}
	return it.OriginDeviceID < other.OriginDeviceID
}

// Assigner stamps identity onto locally produced items: a globally unique ID
// (device id + monotonically increasing counter), the origin device id, and
// the creation timestamp.
type Assigner struct {
	deviceID string
	counter  atomic.Uint64
}

// NewAssigner returns an Assigner for the given device id.
func NewAssigner(deviceID string) *Assigner {
	return &Assigner{deviceID: deviceID}
}

// DeviceID returns the device id this assigner stamps.
func (a *Assigner) DeviceID() string { return a.deviceID }

// Assign fills in ID, OriginDeviceID and CreatedAt on a copy of it.
func (a *Assigner) Assign(it Item) Item {
	n := a.counter.Add(1)
	it.ID = fmt.Sprintf("%s:%d", a.deviceID, n)
	it.OriginDeviceID = a.deviceID
	it.CreatedAt = time.Now().UnixMilli()
	return it
}

// Text returns a text item without identity; the engine assigns identity on
// the local-change path.
func Text(s string) Item {
	return Item{Kind: KindText, Text: s}
}

// Image returns an image item without identity.
func Image(data []byte, mime string) Item {
	return Item{Kind: KindImage, Data: data, MIME: mime}
}
