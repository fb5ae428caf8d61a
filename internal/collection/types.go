package collection

// Unit costs charged by the remote service, in quota units.
//
// Listing a page costs one unit. A mutating call (add or remove) costs a
// flat 50 units regardless of how many items the batch carries, which is why
// the engine fills batches as full as the service allows.
const (
	ListCost   = 1
	MutateCost = 50
)

// MaxPageSize is the largest item page the service returns per list call.
const MaxPageSize = 50

// Item is a single addressable entity on the remote service. The engine
// treats items as immutable; only the service mutates true membership.
type Item struct {
	ID          string
	Title       string
	Description string
}

// Page is one page of a container listing.
type Page struct {
	Items     []Item
	NextToken string
}

// ItemStatus is the per-item result of a mutating call.
type ItemStatus string

const (
	// StatusOK means the mutation was applied to the item.
	StatusOK ItemStatus = "ok"

	// StatusDuplicate means an add targeted an item already present in the
	// destination. The service treats this as a no-op; the engine counts it
	// as applied, which is what makes replaying a batch after a crash safe.
	StatusDuplicate ItemStatus = "duplicate"

	// StatusNotFound means the item no longer exists (deleted or private).
	StatusNotFound ItemStatus = "not_found"

	// StatusForbidden means the caller may not mutate this item.
	StatusForbidden ItemStatus = "forbidden"
)

// ItemResult pairs an item identifier with the status of one mutation.
type ItemResult struct {
	ItemID string
	Status ItemStatus
}

// Applied reports whether the mutation took effect for this item, counting
// duplicate adds as applied.
func (r ItemResult) Applied() bool {
	return r.Status == StatusOK || r.Status == StatusDuplicate
}
