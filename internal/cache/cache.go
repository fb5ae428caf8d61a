// Package cache provides the TTL-keyed read-through cache for container
// listings.
//
// Expiry is lazy: entries are checked against their TTL at read time and
// removed on access. There is no background sweeper. Any mutation the engine
// performs against a container invalidates that container's keys before the
// mutation's outcome is reported, so the next read never sees pre-mutation
// data the engine itself made stale.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/sortd/sortd/internal/collection"
)

// DefaultTTL is how long a cached listing stays fresh.
const DefaultTTL = time.Hour

// Stats counts cache effectiveness. Snapshot via ReadCache.Stats.
type Stats struct {
	Hits    int
	Misses  int
	Expired int
}

type entry struct {
	items      []collection.Item
	insertedAt time.Time
}

// ReadCache is a TTL store of container listings keyed by
// "<containerID>/<read kind>".
//
// Thread-safety: all methods are safe for concurrent use.
type ReadCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	stats   Stats
	now     func() time.Time
}

// Option configures a ReadCache.
type Option func(*ReadCache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *ReadCache) {
		c.ttl = ttl
	}
}

// WithNow overrides the wall clock for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(c *ReadCache) {
		c.now = now
	}
}

// New creates an empty cache.
func New(opts ...Option) *ReadCache {
	c := &ReadCache{
		ttl:     DefaultTTL,
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a cache key from a container ID and a read kind.
func Key(containerID, kind string) string {
	return containerID + "/" + kind
}

// Get returns the cached items for key, or ok=false on miss. An entry older
// than the TTL is never returned; it is deleted on access and counted as
// expired.
func (c *ReadCache) Get(key string) ([]collection.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.items, true
}

// Put stores items under key, stamping the insertion time.
func (c *ReadCache) Put(key string, items []collection.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{items: items, insertedAt: c.now()}
}

// Invalidate removes a single key.
func (c *ReadCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// InvalidatePrefix removes every key with the given prefix. Passing a
// container ID (plus the trailing separator) drops all read kinds for that
// container after a mutation.
func (c *ReadCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// InvalidateContainer drops every cached read for a container.
func (c *ReadCache) InvalidateContainer(containerID string) {
	c.InvalidatePrefix(containerID + "/")
}

// Len returns the number of live entries, including any not yet lazily
// expired.
func (c *ReadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns a snapshot of hit/miss/expired counters.
func (c *ReadCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}
