package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/sortd/sortd/internal/collection"
)

// FakeOracle classifies items by substring match of the criterion against
// the item title, lower-cased. Verdicts can be pinned per item, and items
// can be marked declined so the oracle omits them from its answer (the
// engine must then report them skipped-invalid).
//
// Thread-safety: all methods are safe for concurrent use.
type FakeOracle struct {
	mu       sync.Mutex
	pinned   map[string]bool
	declined map[string]bool

	// Err, when set, is returned by every Classify call.
	Err error

	Calls int
}

// NewFakeOracle creates an oracle with no pinned verdicts.
func NewFakeOracle() *FakeOracle {
	return &FakeOracle{
		pinned:   make(map[string]bool),
		declined: make(map[string]bool),
	}
}

// Pin forces the verdict for an item regardless of criterion.
func (o *FakeOracle) Pin(itemID string, matched bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pinned[itemID] = matched
}

// Decline makes the oracle omit an item from its answers.
func (o *FakeOracle) Decline(itemID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.declined[itemID] = true
}

// Classify implements collection.Oracle.
func (o *FakeOracle) Classify(ctx context.Context, items []collection.Item, criterion string) (map[string]bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.Calls++
	if o.Err != nil {
		return nil, o.Err
	}

	verdicts := make(map[string]bool, len(items))
	needle := strings.ToLower(criterion)
	for _, it := range items {
		if o.declined[it.ID] {
			continue
		}
		if v, ok := o.pinned[it.ID]; ok {
			verdicts[it.ID] = v
			continue
		}
		if criterion == "" {
			verdicts[it.ID] = true
			continue
		}
		verdicts[it.ID] = strings.Contains(strings.ToLower(it.Title), needle) ||
			strings.Contains(strings.ToLower(it.Description), needle)
	}
	return verdicts, nil
}

// FakeTokens is a TokenProvider double counting refreshes.
type FakeTokens struct {
	mu        sync.Mutex
	Refreshes int

	// Err, when set, makes Refresh fail.
	Err error
}

// Refresh implements collection.TokenProvider.
func (f *FakeTokens) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refreshes++
	return f.Err
}
