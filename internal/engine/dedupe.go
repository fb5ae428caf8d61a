package engine

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"

	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/store"
)

// titleFolder case-folds titles so "Mix Tape" and "MIX tape" collide.
var titleFolder = cases.Fold()

// Duplicate is one removable occurrence in a container: a later occurrence
// of an item ID already seen, or a distinct item whose folded title matches
// an earlier item's.
type Duplicate struct {
	Item collection.Item

	// Position is the occurrence's index in the container snapshot, which
	// undo records so the item can be restored where it was.
	Position int

	// KeptPosition is the index of the first occurrence being kept.
	KeptPosition int

	// SameID marks a duplicate of the same item ID. Removing by ID drops
	// every occurrence, so the kept occurrence must be re-inserted after
	// the removal call.
	SameID bool
}

// PlanDuplicates scans a snapshot in order and returns the occurrences a
// dedupe run should remove. The first occurrence of each identity is always
// kept.
func PlanDuplicates(snapshot []collection.Item) []Duplicate {
	var dups []Duplicate
	firstByID := make(map[string]int)
	firstByTitle := make(map[string]int)

	for i, it := range snapshot {
		if pos, seen := firstByID[it.ID]; seen {
			dups = append(dups, Duplicate{Item: it, Position: i, KeptPosition: pos, SameID: true})
			continue
		}
		firstByID[it.ID] = i

		key := titleFolder.String(it.Title)
		if key == "" {
			continue
		}
		if pos, seen := firstByTitle[key]; seen {
			dups = append(dups, Duplicate{Item: it, Position: i, KeptPosition: pos})
			continue
		}
		firstByTitle[key] = i
	}
	return dups
}

// ProcessDedupe removes one batch of duplicate occurrences from a container.
//
// Cost: one remove call, plus one positional insert per same-ID group whose
// kept occurrence must be restored. The whole batch cost is reserved up
// front; a denied reservation returns ErrQuotaBlocked with nothing sent.
func (p *BatchProcessor) ProcessDedupe(ctx context.Context, containerID string, batch []Duplicate, dryRun bool) (*BatchResult, error) {
	res := &BatchResult{}
	if len(batch) == 0 {
		return res, nil
	}

	if dryRun {
		for _, d := range batch {
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: d.Item.ID, Tag: OutcomeApplied, Detail: "dry-run"})
		}
		return res, nil
	}

	// Same-ID removals take every occurrence with them; the kept occurrence
	// is re-inserted at its original position afterwards. One restore per
	// distinct item ID.
	restoreAt := make(map[string]int)
	var removeIDs []string
	requested := make(map[string]bool)
	for _, d := range batch {
		if !requested[d.Item.ID] {
			requested[d.Item.ID] = true
			removeIDs = append(removeIDs, d.Item.ID)
		}
		if d.SameID {
			restoreAt[d.Item.ID] = d.KeptPosition
		}
	}

	cost := collection.MutateCost * (1 + len(restoreAt))
	if !p.Ledger.Reserve(cost) {
		return nil, ErrQuotaBlocked
	}

	var removeResults []collection.ItemResult
	err := p.Caller.Call(ctx, "remove "+containerID, func(ctx context.Context) error {
		var cerr error
		removeResults, cerr = p.Service.RemoveItems(ctx, containerID, removeIDs)
		return cerr
	})
	if err != nil {
		p.Ledger.Release(cost)
		if IsQuotaFatal(err) {
			return nil, err
		}
		for _, d := range batch {
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: d.Item.ID, Tag: OutcomeFailedRetryable, Detail: err.Error()})
		}
		return res, nil
	}

	removed := make(map[string]bool, len(removeResults))
	status := make(map[string]collection.ItemStatus, len(removeResults))
	for _, r := range removeResults {
		status[r.ItemID] = r.Status
		if r.Applied() {
			removed[r.ItemID] = true
		}
	}

	for id, pos := range restoreAt {
		if !removed[id] {
			continue
		}
		var r collection.ItemResult
		ierr := p.Caller.Call(ctx, "insert "+containerID, func(ctx context.Context) error {
			var cerr error
			r, cerr = p.Service.InsertItemAt(ctx, containerID, id, pos)
			return cerr
		})
		if ierr != nil || !r.Applied() {
			// The kept occurrence is gone too. Undo has to bring the item
			// back; record a best-effort restore for it as well.
			res.Undo = append(res.Undo, store.UndoAction{Op: store.UndoInsertAt, ContainerID: containerID, ItemID: id, Position: pos})
		}
	}

	p.Ledger.Commit(cost)
	p.Cache.InvalidateContainer(containerID)

	for _, d := range batch {
		if removed[d.Item.ID] {
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: d.Item.ID, Tag: OutcomeApplied})
			res.Undo = append(res.Undo, store.UndoAction{
				Op:          store.UndoInsertAt,
				ContainerID: containerID,
				ItemID:      d.Item.ID,
				Position:    d.Position,
			})
			continue
		}
		res.Outcomes = append(res.Outcomes, Outcome{
			ItemID: d.Item.ID,
			Tag:    OutcomeSkippedInvalid,
			Detail: fmt.Sprintf("remove reported %s", status[d.Item.ID]),
		})
	}
	res.RemovedFromSource = len(removed)

	return res, nil
}
