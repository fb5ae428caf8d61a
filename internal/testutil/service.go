package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/sortd/sortd/internal/collection"
)

// FakeService is an in-memory collection service. Containers hold ordered
// item ID sequences; item metadata lives in a shared catalog so the same
// item can belong to several containers.
//
// Failures are scripted per call site: FailNext queues errors that the next
// matching calls return, which is how tests exercise retry, refresh, and
// halt behavior. Counters record how many calls of each kind were made.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeService struct {
	mu         sync.Mutex
	containers map[string][]string
	catalog    map[string]collection.Item
	missing    map[string]bool // item IDs the service reports not_found
	forbidden  map[string]bool // item IDs the service reports forbidden
	failures   map[string][]error

	ListCalls   int
	AddCalls    int
	RemoveCalls int
	InsertCalls int

	// PageSize bounds ListItems pages. Zero means collection.MaxPageSize.
	PageSize int
}

// NewFakeService creates an empty service.
func NewFakeService() *FakeService {
	return &FakeService{
		containers: make(map[string][]string),
		catalog:    make(map[string]collection.Item),
		missing:    make(map[string]bool),
		forbidden:  make(map[string]bool),
		failures:   make(map[string][]error),
	}
}

// SetContainer replaces a container's membership, registering items in the
// catalog with generated titles unless already present.
func (f *FakeService) SetContainer(containerID string, itemIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.containers[containerID] = append([]string(nil), itemIDs...)
	for _, id := range itemIDs {
		if _, ok := f.catalog[id]; !ok {
			f.catalog[id] = collection.Item{ID: id, Title: "title-" + id}
		}
	}
}

// SetItem registers or overrides item metadata in the catalog.
func (f *FakeService) SetItem(item collection.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog[item.ID] = item
}

// MarkMissing makes mutations against an item report StatusNotFound.
func (f *FakeService) MarkMissing(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[itemID] = true
}

// MarkForbidden makes mutations against an item report StatusForbidden.
func (f *FakeService) MarkForbidden(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[itemID] = true
}

// FailNext queues an error for the next call of the given kind
// ("list", "add", "remove", "insert"). Queued errors are consumed FIFO.
func (f *FakeService) FailNext(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[kind] = append(f.failures[kind], err)
}

// Container returns a copy of a container's current membership.
func (f *FakeService) Container(containerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.containers[containerID]...)
}

func (f *FakeService) popFailure(kind string) error {
	if q := f.failures[kind]; len(q) > 0 {
		f.failures[kind] = q[1:]
		return q[0]
	}
	return nil
}

// ListItems implements collection.Service.
func (f *FakeService) ListItems(ctx context.Context, containerID, pageToken string) (collection.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++
	if err := f.popFailure("list"); err != nil {
		return collection.Page{}, err
	}

	ids, ok := f.containers[containerID]
	if !ok {
		return collection.Page{}, fmt.Errorf("container %s not found", containerID)
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = collection.MaxPageSize
	}

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + pageSize
	next := ""
	if end >= len(ids) {
		end = len(ids)
	} else {
		next = fmt.Sprintf("%d", end)
	}

	items := make([]collection.Item, 0, end-start)
	for _, id := range ids[start:end] {
		items = append(items, f.catalog[id])
	}
	return collection.Page{Items: items, NextToken: next}, nil
}

// AddItems implements collection.Service. Adding an existing member reports
// StatusDuplicate and leaves the container unchanged.
func (f *FakeService) AddItems(ctx context.Context, containerID string, itemIDs []string) ([]collection.ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.AddCalls++
	if err := f.popFailure("add"); err != nil {
		return nil, err
	}

	results := make([]collection.ItemResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		switch {
		case f.missing[id]:
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusNotFound})
		case f.forbidden[id]:
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusForbidden})
		case contains(f.containers[containerID], id):
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusDuplicate})
		default:
			f.containers[containerID] = append(f.containers[containerID], id)
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusOK})
		}
	}
	return results, nil
}

// RemoveItems implements collection.Service.
func (f *FakeService) RemoveItems(ctx context.Context, containerID string, itemIDs []string) ([]collection.ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RemoveCalls++
	if err := f.popFailure("remove"); err != nil {
		return nil, err
	}

	results := make([]collection.ItemResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		switch {
		case f.missing[id]:
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusNotFound})
		case !contains(f.containers[containerID], id):
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusNotFound})
		default:
			f.containers[containerID] = remove(f.containers[containerID], id)
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusOK})
		}
	}
	return results, nil
}

// InsertItemAt implements collection.Service. Positions past the end append.
func (f *FakeService) InsertItemAt(ctx context.Context, containerID, itemID string, position int) (collection.ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.InsertCalls++
	if err := f.popFailure("insert"); err != nil {
		return collection.ItemResult{}, err
	}

	if f.missing[itemID] {
		return collection.ItemResult{ItemID: itemID, Status: collection.StatusNotFound}, nil
	}

	ids := f.containers[containerID]
	if position < 0 || position > len(ids) {
		position = len(ids)
	}
	ids = append(ids, "")
	copy(ids[position+1:], ids[position:])
	ids[position] = itemID
	f.containers[containerID] = ids
	return collection.ItemResult{ItemID: itemID, Status: collection.StatusOK}, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
