package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sortd/sortd/internal/cache"
	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/quota"
	"github.com/sortd/sortd/internal/store"
)

// ErrQuotaBlocked is the distinguished non-error signal that the quota
// ledger denied a reservation. The command reacts by persisting its
// checkpoint and halting; no remote call has been made.
var ErrQuotaBlocked = errors.New("quota blocked")

// readKindItems is the cache read kind for full container listings.
const readKindItems = "items"

// BatchProcessor executes one batch at a time against the remote service,
// threading every call through the read cache, the quota ledger, and the
// retrying caller.
//
// The processor is stateless across batches: batch boundaries are a pure
// function of (snapshot, cursor, batch size), which is what makes resume
// deterministic.
type BatchProcessor struct {
	Service collection.Service
	Oracle  collection.Oracle
	Ledger  *quota.Ledger
	Cache   *cache.ReadCache
	Caller  *RetryingCaller
}

// BatchResult is the product of processing one batch.
type BatchResult struct {
	// Outcomes holds exactly one entry per item in the batch.
	Outcomes []Outcome

	// Undo holds the inverse of every mutation this batch committed.
	Undo []store.UndoAction

	// RemovedFromSource counts items no longer present in the source
	// container (moved out), which the command uses to advance cursors
	// against a post-mutation listing.
	RemovedFromSource int
}

// Snapshot returns a container's full listing through the read cache.
// A cache miss pages through the service, reserving ListCost per page.
// Returns ErrQuotaBlocked if the ledger denies a page read.
func (p *BatchProcessor) Snapshot(ctx context.Context, containerID string) ([]collection.Item, error) {
	key := cache.Key(containerID, readKindItems)
	if items, ok := p.Cache.Get(key); ok {
		return items, nil
	}

	var all []collection.Item
	token := ""
	for {
		if !p.Ledger.Reserve(collection.ListCost) {
			return nil, ErrQuotaBlocked
		}

		var page collection.Page
		err := p.Caller.Call(ctx, "list "+containerID, func(ctx context.Context) error {
			var cerr error
			page, cerr = p.Service.ListItems(ctx, containerID, token)
			return cerr
		})
		if err != nil {
			p.Ledger.Release(collection.ListCost)
			return nil, fmt.Errorf("list %s: %w", containerID, err)
		}
		p.Ledger.Commit(collection.ListCost)

		all = append(all, page.Items...)
		token = page.NextToken
		if token == "" {
			break
		}
	}

	p.Cache.Put(key, all)
	return all, nil
}

// NextBatch slices up to batchSize items from snapshot starting at cursor,
// preserving container order. Re-running from the same cursor over an
// unmodified snapshot yields the same boundaries.
func NextBatch(snapshot []collection.Item, cursor, batchSize int) []collection.Item {
	if cursor >= len(snapshot) {
		return nil
	}
	end := cursor + batchSize
	if end > len(snapshot) {
		end = len(snapshot)
	}
	return snapshot[cursor:end]
}

// transfer is the batch processor's unit of work for consolidate and
// distribute: classify the batch against the destination's criterion, add
// matches to the destination, and remove them from the source when moving.
type transfer struct {
	SourceID      string
	DestinationID string
	Criterion     string
	Move          bool
	DryRun        bool
}

// ProcessTransfer runs one batch through classification and mutation.
//
// Ledger protocol: the full mutation cost for the batch (add call, plus
// remove call when moving) is reserved before anything is sent. A denied
// reservation returns ErrQuotaBlocked untouched. On any success the cost is
// committed and the affected containers' cache keys invalidated before the
// result is returned; on total failure the hold is released so a later
// retry can re-reserve it.
func (p *BatchProcessor) ProcessTransfer(ctx context.Context, t transfer, batch []collection.Item) (*BatchResult, error) {
	res := &BatchResult{}
	if len(batch) == 0 {
		return res, nil
	}

	verdicts, err := p.classify(ctx, batch, t.Criterion)
	if err != nil {
		return nil, err
	}

	var matched []collection.Item
	pending := make(map[string]bool, len(batch))
	for _, it := range batch {
		v, ok := verdicts[it.ID]
		switch {
		case !ok:
			// The oracle declined to classify this item.
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: it.ID, Tag: OutcomeSkippedInvalid, Detail: "oracle declined"})
		case !v:
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: it.ID, Tag: OutcomeSkippedNoMatch})
		default:
			matched = append(matched, it)
			pending[it.ID] = true
		}
	}
	if len(matched) == 0 {
		return res, nil
	}

	if t.DryRun {
		for _, it := range matched {
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: it.ID, Tag: OutcomeApplied, Detail: "dry-run"})
		}
		return res, nil
	}

	cost := collection.MutateCost
	if t.Move {
		cost += collection.MutateCost
	}
	if !p.Ledger.Reserve(cost) {
		return nil, ErrQuotaBlocked
	}

	ids := itemIDs(matched)
	var addResults []collection.ItemResult
	err = p.Caller.Call(ctx, "add "+t.DestinationID, func(ctx context.Context) error {
		var cerr error
		addResults, cerr = p.Service.AddItems(ctx, t.DestinationID, ids)
		return cerr
	})
	if err != nil {
		p.Ledger.Release(cost)
		if IsQuotaFatal(err) {
			return nil, err
		}
		// The whole call failed after every retry: each matched item gets a
		// failed outcome, nothing is silently dropped.
		for _, it := range matched {
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: it.ID, Tag: OutcomeFailedRetryable, Detail: err.Error()})
		}
		return res, nil
	}

	added := make(map[string]bool, len(addResults))
	for _, r := range addResults {
		delete(pending, r.ItemID)
		if r.Applied() {
			added[r.ItemID] = true
			// Inverse of the add; the move-back half is appended below once
			// the removal is known to have succeeded.
			res.Undo = append(res.Undo, store.UndoAction{Op: store.UndoRemove, ContainerID: t.DestinationID, ItemID: r.ItemID})
			continue
		}
		res.Outcomes = append(res.Outcomes, Outcome{
			ItemID: r.ItemID,
			Tag:    OutcomeSkippedInvalid,
			Detail: fmt.Sprintf("add reported %s", r.Status),
		})
	}
	// Items the service did not mention in its per-item results.
	for id := range pending {
		res.Outcomes = append(res.Outcomes, Outcome{ItemID: id, Tag: OutcomeSkippedInvalid, Detail: "no result from service"})
	}

	removed := make(map[string]bool)
	if t.Move && len(added) > 0 {
		removeIDs := make([]string, 0, len(added))
		for _, id := range ids {
			if added[id] {
				removeIDs = append(removeIDs, id)
			}
		}

		var removeResults []collection.ItemResult
		rerr := p.Caller.Call(ctx, "remove "+t.SourceID, func(ctx context.Context) error {
			var cerr error
			removeResults, cerr = p.Service.RemoveItems(ctx, t.SourceID, removeIDs)
			return cerr
		})
		if rerr != nil {
			if IsQuotaFatal(rerr) {
				// The add half succeeded and must stay charged and undoable.
				p.Ledger.Commit(cost)
				p.invalidate(t)
				return nil, rerr
			}
			slog.Warn("remove after add failed, items left in source",
				"source", t.SourceID, "count", len(removeIDs), "error", rerr)
		} else {
			for _, r := range removeResults {
				if r.Applied() {
					removed[r.ItemID] = true
					res.Undo = append(res.Undo, store.UndoAction{Op: store.UndoAdd, ContainerID: t.SourceID, ItemID: r.ItemID})
				}
			}
		}
	}

	// At least the add call went through: commit the reservation and make
	// the mutation visible to the next read.
	p.Ledger.Commit(cost)
	p.invalidate(t)

	for _, id := range ids {
		if !added[id] {
			continue
		}
		o := Outcome{ItemID: id, Tag: OutcomeApplied}
		if t.Move && !removed[id] {
			o.Detail = "added to destination; removal from source failed"
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	res.RemovedFromSource = len(removed)

	return res, nil
}

// classify asks the oracle for verdicts. An empty criterion means every item
// matches without consulting the oracle.
func (p *BatchProcessor) classify(ctx context.Context, batch []collection.Item, criterion string) (map[string]bool, error) {
	if criterion == "" {
		verdicts := make(map[string]bool, len(batch))
		for _, it := range batch {
			verdicts[it.ID] = true
		}
		return verdicts, nil
	}

	var verdicts map[string]bool
	err := p.Caller.Call(ctx, "classify", func(ctx context.Context) error {
		var cerr error
		verdicts, cerr = p.Oracle.Classify(ctx, batch, criterion)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return verdicts, nil
}

// invalidate drops cached reads for every container a transfer touched,
// before the batch outcome is reported.
func (p *BatchProcessor) invalidate(t transfer) {
	p.Cache.InvalidateContainer(t.DestinationID)
	if t.Move {
		p.Cache.InvalidateContainer(t.SourceID)
	}
}

func itemIDs(items []collection.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
