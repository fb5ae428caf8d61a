package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sortd/sortd/internal/collection"
)

// snapshotEntry is the persisted form of one cache entry.
type snapshotEntry struct {
	Items      []collection.Item `json:"items"`
	InsertedAt time.Time         `json:"inserted_at"`
}

// Save writes the cache contents to path as JSON so a later run can start
// warm. Entries keep their original insertion times; anything past its TTL
// when reloaded expires lazily as usual.
func (c *ReadCache) Save(path string) error {
	c.mu.Lock()
	snap := make(map[string]snapshotEntry, len(c.entries))
	for k, e := range c.entries {
		snap[k] = snapshotEntry{Items: e.items, InsertedAt: e.insertedAt}
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	return nil
}

// Load merges a snapshot written by Save into the cache. A missing file is
// not an error; a corrupt file is reported and leaves the cache unchanged.
func (c *ReadCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache snapshot: %w", err)
	}

	var snap map[string]snapshotEntry
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range snap {
		c.entries[k] = entry{items: e.Items, insertedAt: e.InsertedAt}
	}
	return nil
}
