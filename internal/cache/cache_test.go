package cache

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortd/sortd/internal/collection"
)

func manualClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	cur := start
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(d)
	}
	return now, advance
}

func items(ids ...string) []collection.Item {
	out := make([]collection.Item, len(ids))
	for i, id := range ids {
		out[i] = collection.Item{ID: id, Title: "title-" + id}
	}
	return out
}

func TestReadCache_PutThenGet(t *testing.T) {
	now, _ := manualClock(time.Unix(1000, 0))
	c := New(WithTTL(time.Second), WithNow(now))

	c.Put(Key("X", "items"), items("a", "b"))

	got, ok := c.Get(Key("X", "items"))
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestReadCache_ExpiresAfterTTL(t *testing.T) {
	now, advance := manualClock(time.Unix(1000, 0))
	c := New(WithTTL(time.Second), WithNow(now))

	c.Put(Key("X", "items"), items("a"))

	// Immediate get returns the value.
	_, ok := c.Get(Key("X", "items"))
	require.True(t, ok)

	// After the TTL elapses the entry is absent and removed on access.
	advance(time.Second)
	_, ok = c.Get(Key("X", "items"))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Expired)
}

func TestReadCache_MissOnAbsentKey(t *testing.T) {
	c := New()
	_, ok := c.Get(Key("nope", "items"))
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Misses)
}

func TestReadCache_InvalidateContainerDropsAllKinds(t *testing.T) {
	c := New()
	c.Put(Key("X", "items"), items("a"))
	c.Put(Key("X", "info"), items("a"))
	c.Put(Key("Y", "items"), items("b"))

	c.InvalidateContainer("X")

	_, ok := c.Get(Key("X", "items"))
	assert.False(t, ok)
	_, ok = c.Get(Key("X", "info"))
	assert.False(t, ok)
	_, ok = c.Get(Key("Y", "items"))
	assert.True(t, ok, "other containers untouched")
}

func TestReadCache_SaveAndLoadRoundTrip(t *testing.T) {
	now, _ := manualClock(time.Unix(1000, 0))
	path := filepath.Join(t.TempDir(), "cache.json")

	c1 := New(WithTTL(time.Hour), WithNow(now))
	c1.Put(Key("X", "items"), items("a", "b"))
	require.NoError(t, c1.Save(path))

	c2 := New(WithTTL(time.Hour), WithNow(now))
	require.NoError(t, c2.Load(path))

	got, ok := c2.Get(Key("X", "items"))
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestReadCache_LoadMissingFileIsNoop(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "absent.json")))
	assert.Equal(t, 0, c.Len())
}

func TestReadCache_LoadedEntriesKeepInsertionTime(t *testing.T) {
	now, advance := manualClock(time.Unix(1000, 0))
	path := filepath.Join(t.TempDir(), "cache.json")

	c1 := New(WithTTL(time.Minute), WithNow(now))
	c1.Put(Key("X", "items"), items("a"))
	require.NoError(t, c1.Save(path))

	// Reload after the TTL has passed: the entry must expire on access.
	advance(2 * time.Minute)
	c2 := New(WithTTL(time.Minute), WithNow(now))
	require.NoError(t, c2.Load(path))

	_, ok := c2.Get(Key("X", "items"))
	assert.False(t, ok)
}
