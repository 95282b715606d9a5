// Package clip provides the clipboard capability consumed by the sync
// engine: something that can be read, written, and watched for changes.
//
// Two implementations exist: the system backend built on
// golang.design/x/clipboard (selected by build constraints, polling-based
// change detection) and an in-process memory backend used for tests and
// headless runs. The engine is written against the Source interface only and
// must function with no system clipboard present.
package clip

import (
	"bytes"

	"go.clipsync.dev/clipsync/internal/item"
)

// Content is a snapshot of clipboard contents, without sync identity.
// The engine assigns id/origin/timestamp when it turns Content into an item.
type Content struct {
	Kind item.Kind
	Text string
	Data []byte
	MIME string
}

// Equal reports whether two snapshots carry the same payload.
func (c Content) Equal(o Content) bool {
	return c.Kind == o.Kind && c.Text == o.Text && c.MIME == o.MIME && bytes.Equal(c.Data, o.Data)
}

// Empty reports whether the snapshot carries no payload.
func (c Content) Empty() bool {
	switch c.Kind {
	case item.KindText:
		return c.Text == ""
	case item.KindImage:
		return len(c.Data) == 0
	default:
		return true
	}
}

// Source is the clipboard capability.
type Source interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents. ok is false when the
	// clipboard is empty or holds only unsupported formats.
	Read() (c Content, ok bool, err error)

	// Write replaces the clipboard contents.
	Write(Content) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// may have changed. The channel is never closed; callers should Read()
	// on receipt. Change detection may be poll-based.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
