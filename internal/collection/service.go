package collection

import "context"

// Service is the remote collection service. Calls are quota-metered: the
// engine reserves the call's cost with the quota ledger before invoking any
// of these methods.
//
// Mutating calls return per-item results. A partially failed batch is normal:
// the service applies what it can and reports the rest item by item.
type Service interface {
	// ListItems returns one page of a container's items in container order.
	// Pass an empty pageToken for the first page. Costs ListCost per call.
	ListItems(ctx context.Context, containerID, pageToken string) (Page, error)

	// AddItems appends the given items to a container. Adding an item that
	// is already a member reports StatusDuplicate and is a remote no-op.
	// Costs MutateCost per call.
	AddItems(ctx context.Context, containerID string, itemIDs []string) ([]ItemResult, error)

	// RemoveItems removes the given items from a container. Costs MutateCost
	// per call.
	RemoveItems(ctx context.Context, containerID string, itemIDs []string) ([]ItemResult, error)

	// InsertItemAt inserts an item at a specific position in a container.
	// Used only by undo when restoring deduplicated items to their recorded
	// positions; positions past the end append. Costs MutateCost per call.
	InsertItemAt(ctx context.Context, containerID, itemID string, position int) (ItemResult, error)
}

// Oracle is the external classifier that decides whether items match a
// destination's selection criterion. The oracle's own cost, if any, is not
// charged to the engine's quota ledger.
type Oracle interface {
	// Classify returns a matched verdict per item ID. Items missing from the
	// returned map were declined by the oracle; the engine marks those
	// skipped-invalid rather than guessing.
	Classify(ctx context.Context, items []Item, criterion string) (map[string]bool, error)
}

// TokenProvider refreshes expired credentials. The retrying caller invokes
// Refresh at most once per failure chain.
type TokenProvider interface {
	Refresh(ctx context.Context) error
}
