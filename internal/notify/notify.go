// Package notify delivers engine state changes to an external UI layer.
//
// The engine emits through the Notifier interface and never depends on a UI
// being attached: Nop discards everything, Bus forwards typed events to a
// channel that a UI (or a test) drains. Delivery is fire-and-forget with
// ordering preserved per category; a consumer that stops draining the bus
// loses events rather than blocking the engine.
package notify

import (
	"log/slog"

	"go.clipsync.dev/clipsync/internal/item"
)

// ConnectionStatus reports session connectivity. Retrying distinguishes
// "disconnected, reconnect scheduled" from a user-initiated disconnect.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Err       string `json:"error,omitempty"`
	Retrying  bool   `json:"retrying,omitempty"`
}

// ClipboardReceived reports one item that arrived from a remote device.
type ClipboardReceived struct {
	Item      item.Item `json:"item"`
	Timestamp int64     `json:"timestamp"`
}

// HistoryLoaded carries the history snapshot replayed on connect,
// newest first.
type HistoryLoaded struct {
	Items []item.Item `json:"history"`
}

// Notifier receives engine events.
type Notifier interface {
	OnConnectionStatus(ConnectionStatus)
	OnClipboardReceived(ClipboardReceived)
	OnHistoryLoaded(HistoryLoaded)
}

// Nop discards all events.
type Nop struct{}

func (Nop) OnConnectionStatus(ConnectionStatus)   {}
func (Nop) OnClipboardReceived(ClipboardReceived) {}
func (Nop) OnHistoryLoaded(HistoryLoaded)         {}

// Event is one typed bus event; exactly one field is set.
type Event struct {
	ConnectionStatus  *ConnectionStatus
	ClipboardReceived *ClipboardReceived
	HistoryLoaded     *HistoryLoaded
}

// Bus is a channel-backed Notifier.
type Bus struct {
	ch chan Event
}

// NewBus returns a Bus with the given buffer size (default 128).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 128
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Events returns the channel a consumer drains.
func (b *Bus) Events() <-chan Event { return b.ch }

func (b *Bus) emit(ev Event) {
	select {
	case b.ch <- ev:
	default:
		slog.Warn("event bus full, dropping event")
	}
}

func (b *Bus) OnConnectionStatus(s ConnectionStatus) { b.emit(Event{ConnectionStatus: &s}) }

func (b *Bus) OnClipboardReceived(r ClipboardReceived) { b.emit(Event{ClipboardReceived: &r}) }

func (b *Bus) OnHistoryLoaded(h HistoryLoaded) { b.emit(Event{HistoryLoaded: &h}) }
