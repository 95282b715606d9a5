package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.clipsync.dev/clipsync/internal/item"
)

func textItem(id string) item.Item {
	return item.Item{ID: id, Kind: item.KindText, Text: "payload-" + id, OriginDeviceID: "dev"}
}

func TestInsertDedup(t *testing.T) {
	l := New(10)
	assert.True(t, l.Insert(textItem("a")))
	assert.False(t, l.Insert(textItem("a")), "duplicate id must be a no-op")
	assert.Equal(t, 1, l.Len())
}

func TestSnapshotNewestFirst(t *testing.T) {
	l := New(10)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, l.Insert(textItem(id)))
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)
	assert.Equal(t, "a", snap[2].ID)
}

func TestCapacityEvictsOldest(t *testing.T) {
	// Insert 25 into a capacity-20 log: exactly the 20 most recent survive.
	l := New(20)
	for i := 0; i < 25; i++ {
		require.True(t, l.Insert(textItem(fmt.Sprintf("id-%02d", i))))
	}
	snap := l.Snapshot()
	require.Len(t, snap, 20)
	for i, it := range snap {
		assert.Equal(t, fmt.Sprintf("id-%02d", 24-i), it.ID)
	}
}

func TestDuplicateDoesNotEvict(t *testing.T) {
	l := New(2)
	l.Insert(textItem("a"))
	l.Insert(textItem("b"))
	assert.False(t, l.Insert(textItem("b")))
	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)
}

func TestConcurrentInsert(t *testing.T) {
	l := New(1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Insert(textItem(fmt.Sprintf("w%d-%d", w, i)))
			}
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	require.Len(t, snap, 800)
	seen := make(map[string]struct{}, len(snap))
	for _, it := range snap {
		_, dup := seen[it.ID]
		require.False(t, dup, "id %s retained twice", it.ID)
		seen[it.ID] = struct{}{}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New(4)
	l.Insert(textItem("a"))
	snap := l.Snapshot()
	snap[0].Text = "mutated"
	assert.Equal(t, "payload-a", l.Snapshot()[0].Text)
}
