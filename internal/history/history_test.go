package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    uint64
	Label string
}

func appendLabel(l *Log[record], label string) record {
	return l.Append(func(id uint64) record { return record{ID: id, Label: label} })
}

func TestLog_AppendAssignsMonotonicIDs(t *testing.T) {
	l := New[record](10)

	first := appendLabel(l, "a")
	second := appendLabel(l, "b")

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.Equal(t, 2, l.Len())
}

func TestLog_EvictsOldest(t *testing.T) {
	l := New[record](3)
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		appendLabel(l, label)
	}

	entries := l.List(0, nil)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].Label)
	assert.Equal(t, "c", entries[2].Label)
	assert.Equal(t, uint64(5), entries[0].ID)
}

func TestLog_ListLimitAndFilter(t *testing.T) {
	l := New[record](10)
	for _, label := range []string{"x", "y", "x", "y", "x"} {
		appendLabel(l, label)
	}

	onlyX := l.List(2, func(r record) bool { return r.Label == "x" })
	require.Len(t, onlyX, 2)
	assert.Equal(t, uint64(5), onlyX[0].ID)
	assert.Equal(t, uint64(3), onlyX[1].ID)
}

func TestLog_ClearKeepsIDSequence(t *testing.T) {
	l := New[record](10)
	appendLabel(l, "a")
	appendLabel(l, "b")

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.List(0, nil))

	next := appendLabel(l, "c")
	assert.Equal(t, uint64(3), next.ID)
}

func TestLog_DefaultCapacity(t *testing.T) {
	l := New[record](0)
	assert.Equal(t, DefaultCapacity, l.Capacity())
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New[record](1000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				appendLabel(l, "c")
			}
		}()
	}
	wg.Wait()

	entries := l.List(0, nil)
	require.Len(t, entries, 400)

	seen := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		assert.False(t, seen[e.ID], "duplicate id %d", e.ID)
		seen[e.ID] = true
	}
}
