// Package history implements the bounded, ordered log of synchronized
// clipboard items.
//
// The log deduplicates on item ID: inserting an ID that is already retained
// is a no-op. At capacity the oldest entry is evicted on insert — eviction is
// normal behavior, not an error. All methods are safe for concurrent use;
// inserts are serialized so concurrent local and remote changes cannot
// corrupt ordering.
package history

import (
	"sync"

	"go.clipsync.dev/clipsync/internal/item"
)

// DefaultCapacity is the store bound used when the caller passes a
// non-positive capacity. It intentionally exceeds the typical UI display
// window; the two limits are independent.
const DefaultCapacity = 64

// Log is a bounded, newest-first log of clipboard items.
type Log struct {
	mu    sync.Mutex
	items []item.Item // index 0 = newest
	ids   map[string]struct{}
	cap   int
}

// New returns an empty Log with the given capacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		ids: make(map[string]struct{}, capacity),
		cap: capacity,
	}
}

// Insert adds it as the newest entry. Returns false without mutation if an
// entry with the same ID is already retained. When the log is at capacity
// the oldest entry is evicted.
func (l *Log) Insert(it item.Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.ids[it.ID]; dup {
		return false
	}
	if len(l.items) >= l.cap {
		oldest := l.items[len(l.items)-1]
		delete(l.ids, oldest.ID)
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append([]item.Item{it}, l.items...)
	l.ids[it.ID] = struct{}{}
	return true
}

// Snapshot returns a copy of the retained items, newest first.
func (l *Log) Snapshot() []item.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]item.Item, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of retained items.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Cap returns the capacity bound.
func (l *Log) Cap() int { return l.cap }
