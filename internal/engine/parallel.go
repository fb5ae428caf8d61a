package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/store"
)

// Run drives the command to a terminal state one batch at a time.
// Cancellation is honored at batch boundaries: a batch in flight finishes
// before the loop stops, so bookkeeping is never left half-written.
func (c *Command) Run(ctx context.Context) (Progress, error) {
	for {
		sr, err := c.Step(ctx)
		if err != nil {
			return sr.Progress, err
		}
		if sr.Status.Terminal() {
			return sr.Progress, nil
		}
		if err := ctx.Err(); err != nil {
			// The last completed checkpoint remains valid.
			if serr := c.persist(ctx); serr != nil {
				slog.Error("checkpoint save on cancel failed", "error", serr)
			}
			return c.Progress(), err
		}
	}
}

// RunParallel drives independent destination cursors on one worker each.
// Only distribute has more than one unit; other kinds fall back to the
// sequential loop.
//
// All workers share the command's single quota ledger, whose reserve is a
// serialized check-and-hold, so total spend never exceeds the budget even
// under concurrency. Checkpoint and undo writes are serialized on the
// command's mutex; remote calls overlap freely.
//
// Intended for copy distributes. With move, workers contend for the same
// source items and the per-item results stay correct, but cursors may pass
// over items another worker already moved.
func (c *Command) RunParallel(ctx context.Context) (Progress, error) {
	units := c.units()
	if len(units) < 2 {
		return c.Run(ctx)
	}
	if c.state == StateResuming {
		c.state = StateRunning
	}
	if c.state != StateRunning {
		return c.Progress(), errors.New("run from " + string(c.state))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(units))
	blocked := make([]bool, len(units))

	for i := range units {
		wg.Add(1)
		go func(i int, u *unit) {
			defer wg.Done()
			for {
				done, err := c.parallelStep(ctx, u)
				switch {
				case err == nil && !done:
					continue
				case err == nil:
					return
				case errors.Is(err, ErrQuotaBlocked) || IsQuotaFatal(err):
					blocked[i] = true
					return
				default:
					errs[i] = err
					return
				}
			}
		}(i, &units[i])
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, err := range errs {
		if err != nil {
			c.state = StateFailed
			_ = c.persistLocked(ctx)
			return c.progressLocked(), err
		}
	}
	for _, b := range blocked {
		if b {
			c.state = StateQuotaBlocked
			if err := c.persistLocked(ctx); err != nil {
				slog.Error("checkpoint save on quota halt failed", "error", err)
			}
			return c.progressLocked(), nil
		}
	}

	if !c.spec.DryRun {
		if err := c.store.ClearCheckpoint(ctx, c.sig); err != nil {
			c.state = StateFailed
			return c.progressLocked(), err
		}
	}
	c.state = StateCompleted
	return c.progressLocked(), nil
}

// parallelStep advances one unit by one batch, locking only around shared
// bookkeeping so remote calls from different workers overlap.
func (c *Command) parallelStep(ctx context.Context, u *unit) (done bool, err error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	c.mu.Lock()
	cur := c.cp.Cursor(u.cursorKey)
	if cur == nil || cur.Done {
		c.mu.Unlock()
		return true, nil
	}
	pos := cur.Position
	batchSize := c.batchBudget()
	c.mu.Unlock()

	if batchSize == 0 {
		c.mu.Lock()
		cur.Done = true
		c.mu.Unlock()
		return true, nil
	}

	snapshot, err := c.proc.Snapshot(ctx, u.snapshotID)
	if err != nil {
		return true, err
	}

	c.mu.Lock()
	if !c.counted[u.snapshotID] {
		c.counted[u.snapshotID] = true
		c.cp.Counted = append(c.cp.Counted, u.snapshotID)
		c.cp.TotalItems += len(snapshot)
	}
	c.mu.Unlock()

	batch := NextBatch(snapshot, pos, batchSize)
	if len(batch) == 0 {
		c.mu.Lock()
		cur.Done = true
		err = c.persistLocked(ctx)
		c.mu.Unlock()
		return true, err
	}

	res, err := c.proc.ProcessTransfer(ctx, u.transfer, batch)
	if err != nil {
		return true, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur.Position += len(batch) - res.RemovedFromSource
	c.processed += len(batch)
	for _, o := range res.Outcomes {
		c.counts.Add(o)
	}
	if !c.spec.DryRun {
		if len(res.Undo) > 0 {
			if uerr := c.store.RecordUndo(ctx, c.sig, res.Undo); uerr != nil {
				return true, uerr
			}
		}
		if serr := c.persistLocked(ctx); serr != nil {
			return true, serr
		}
	}
	return c.limitReachedLocked(), nil
}

func (c *Command) limitReachedLocked() bool {
	return c.spec.Limit > 0 && c.processed >= c.spec.Limit
}

func (c *Command) persistLocked(ctx context.Context) error {
	if c.spec.DryRun {
		return nil
	}
	c.cp.Processed = c.processed
	c.cp.UpdatedAt = timeNow()
	return c.store.SaveCheckpoint(ctx, c.cp)
}

func (c *Command) progressLocked() Progress {
	p := Progress{
		Signature: c.sig,
		State:     c.state,
		Processed: c.processed,
		Counts:    c.counts,
	}
	if c.cp != nil {
		p.TotalItems = c.cp.TotalItems
		p.Cursors = append(p.Cursors, c.cp.Cursors...)
	}
	return p
}

// UndoItemResult reports one inverse action's fate during undo.
type UndoItemResult struct {
	Action store.UndoAction `json:"action"`
	Error  string           `json:"error,omitempty"`
}

// Undo reverses a recorded operation through the command's processor and
// store. See the package-level Undo.
func (c *Command) Undo(ctx context.Context, signature string) ([]UndoItemResult, error) {
	return Undo(ctx, c.proc, c.store, signature)
}

// Undo consumes the undo record for a signature and applies its inverse
// actions in reverse order, newest mutation first. Positional re-inserts are
// the exception: within a container they run lowest position first, since a
// recorded position is only valid once every earlier slot is filled.
//
// The record is consumed up front (applies-once); per-item failures are
// reported but do not abort the remaining actions. Each action is one
// mutating call, reserved against the ledger; once the ledger denies a
// reservation the remaining actions are reported as failed without being
// sent. Any stale checkpoint for the signature is cleared afterwards, since
// the operation is being abandoned.
func Undo(ctx context.Context, proc *BatchProcessor, st *store.Store, signature string) ([]UndoItemResult, error) {
	actions, err := st.ConsumeUndo(ctx, signature)
	if err != nil {
		return nil, err
	}

	ordered := make([]store.UndoAction, 0, len(actions))
	for i := len(actions) - 1; i >= 0; i-- {
		ordered = append(ordered, actions[i])
	}
	orderInserts(ordered)

	results := make([]UndoItemResult, 0, len(ordered))
	quotaOut := false
	touched := make(map[string]bool)

	for _, a := range ordered {
		r := UndoItemResult{Action: a}

		if quotaOut {
			r.Error = "quota exhausted"
			results = append(results, r)
			continue
		}
		if !proc.Ledger.Reserve(collection.MutateCost) {
			quotaOut = true
			r.Error = "quota exhausted"
			results = append(results, r)
			continue
		}

		if aerr := applyUndoAction(ctx, proc, a); aerr != nil {
			proc.Ledger.Release(collection.MutateCost)
			r.Error = aerr.Error()
		} else {
			proc.Ledger.Commit(collection.MutateCost)
			touched[a.ContainerID] = true
		}
		results = append(results, r)
	}

	for id := range touched {
		proc.Cache.InvalidateContainer(id)
	}
	if err := st.ClearCheckpoint(ctx, signature); err != nil {
		slog.Warn("clearing checkpoint after undo failed", "signature", signature, "error", err)
	}
	return results, nil
}

// orderInserts reorders each container's insert_at actions so the lowest
// recorded position runs first. Applying a higher position before the slots
// below it exist would clamp the insert past the end and scramble the
// restored order. Other actions keep their slots untouched.
func orderInserts(ordered []store.UndoAction) {
	slots := make(map[string][]int)
	for i, a := range ordered {
		if a.Op == store.UndoInsertAt {
			slots[a.ContainerID] = append(slots[a.ContainerID], i)
		}
	}
	for _, idxs := range slots {
		sub := make([]store.UndoAction, len(idxs))
		for j, i := range idxs {
			sub[j] = ordered[i]
		}
		sort.SliceStable(sub, func(a, b int) bool { return sub[a].Position < sub[b].Position })
		for j, i := range idxs {
			ordered[i] = sub[j]
		}
	}
}

func applyUndoAction(ctx context.Context, proc *BatchProcessor, a store.UndoAction) error {
	switch a.Op {
	case store.UndoAdd:
		var rs []collection.ItemResult
		err := proc.Caller.Call(ctx, "undo add "+a.ContainerID, func(ctx context.Context) error {
			var cerr error
			rs, cerr = proc.Service.AddItems(ctx, a.ContainerID, []string{a.ItemID})
			return cerr
		})
		return firstItemError(rs, err)

	case store.UndoRemove:
		var rs []collection.ItemResult
		err := proc.Caller.Call(ctx, "undo remove "+a.ContainerID, func(ctx context.Context) error {
			var cerr error
			rs, cerr = proc.Service.RemoveItems(ctx, a.ContainerID, []string{a.ItemID})
			return cerr
		})
		return firstItemError(rs, err)

	case store.UndoInsertAt:
		var r collection.ItemResult
		err := proc.Caller.Call(ctx, "undo insert "+a.ContainerID, func(ctx context.Context) error {
			var cerr error
			r, cerr = proc.Service.InsertItemAt(ctx, a.ContainerID, a.ItemID, a.Position)
			return cerr
		})
		return firstItemError([]collection.ItemResult{r}, err)

	default:
		return errors.New("unknown undo op " + string(a.Op))
	}
}

// firstItemError folds a call error and per-item statuses into one error.
func firstItemError(rs []collection.ItemResult, err error) error {
	if err != nil {
		return err
	}
	for _, r := range rs {
		if !r.Applied() {
			return errors.New("service reported " + string(r.Status))
		}
	}
	return nil
}
