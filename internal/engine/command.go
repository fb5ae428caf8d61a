package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/store"
)

// State is a command lifecycle state.
//
//	INIT → VALIDATED → (RESUMING | RUNNING) → COMPLETED | QUOTA_BLOCKED | FAILED
type State string

const (
	StateInit         State = "INIT"
	StateValidated    State = "VALIDATED"
	StateResuming     State = "RESUMING"
	StateRunning      State = "RUNNING"
	StateCompleted    State = "COMPLETED"
	StateQuotaBlocked State = "QUOTA_BLOCKED"
	StateFailed       State = "FAILED"
)

// Terminal reports whether no further Step calls are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateQuotaBlocked || s == StateFailed
}

// Progress is the user-visible position of an operation.
type Progress struct {
	Signature  string         `json:"signature"`
	State      State          `json:"state"`
	TotalItems int            `json:"total_items"`
	Processed  int            `json:"processed"`
	Counts     OutcomeCounts  `json:"counts"`
	Cursors    []store.Cursor `json:"cursors"`
}

// StepResult is the product of one single-batch advance.
type StepResult struct {
	Status   State
	Progress Progress
	Outcomes []Outcome
}

// Command orchestrates one operation: it derives work units from the spec,
// drives the batch processor one batch at a time, and keeps the checkpoint
// and undo ledger current so the run survives crashes and can be reversed.
//
// A Command is single-use: Start once, Step until a terminal state.
// Not safe for concurrent use; the parallel distribute mode drives one
// Command per destination instead.
type Command struct {
	spec   Spec
	sig    string
	state  State
	resume bool

	// mu serializes shared bookkeeping in the parallel distribute mode.
	// The sequential path runs on one goroutine and does not take it.
	mu sync.Mutex

	proc  *BatchProcessor
	store *store.Store

	cp        *store.Checkpoint
	counts    OutcomeCounts
	processed int

	// counted tracks containers already folded into TotalItems.
	counted map[string]bool

	// exhausted tracks dedupe occurrences that failed this run, so a
	// re-planned snapshot does not retry them forever.
	exhausted map[string]bool
}

// NewCommand creates a command in INIT for the given spec. Set resume to
// consume an existing checkpoint instead of starting over.
func NewCommand(proc *BatchProcessor, st *store.Store, spec Spec, resume bool) *Command {
	return &Command{
		spec:      spec,
		sig:       spec.Signature(),
		state:     StateInit,
		resume:    resume,
		proc:      proc,
		store:     st,
		counted:   make(map[string]bool),
		exhausted: make(map[string]bool),
	}
}

// Signature returns the operation's deterministic identifier.
func (c *Command) Signature() string {
	return c.sig
}

// State returns the current lifecycle state.
func (c *Command) State() State {
	return c.state
}

// Start validates the spec and binds the command to its checkpoint:
// a stored checkpoint is adopted when resume was requested, otherwise a
// fresh one supersedes whatever was there. Returns the operation signature.
func (c *Command) Start(ctx context.Context) (string, error) {
	if c.state != StateInit {
		return "", fmt.Errorf("start from %s: command already started", c.state)
	}

	if err := c.spec.Validate(); err != nil {
		c.state = StateFailed
		return "", err
	}
	c.state = StateValidated

	if c.resume {
		cp, err := c.store.LoadCheckpoint(ctx, c.sig)
		if err != nil {
			c.state = StateFailed
			if errors.Is(err, store.ErrCorruptCheckpoint) {
				return "", WrapOpError(ErrCodeCorruptCheckpoint, "cannot resume", err)
			}
			return "", err
		}
		if cp != nil {
			c.cp = cp
			c.processed = cp.Processed
			for _, id := range cp.Counted {
				c.counted[id] = true
			}
			c.state = StateResuming
			slog.Info("resuming operation", "signature", c.sig, "processed", cp.Processed)
			return c.sig, nil
		}
		// Nothing to resume; fall through to a fresh run.
	}

	c.cp = c.freshCheckpoint()
	if !c.spec.DryRun {
		if err := c.store.SaveCheckpoint(ctx, c.cp); err != nil {
			c.state = StateFailed
			return "", err
		}
	}
	c.state = StateRunning
	return c.sig, nil
}

// freshCheckpoint builds the zero-progress checkpoint for this spec: one
// cursor per work unit container.
func (c *Command) freshCheckpoint() *store.Checkpoint {
	cp := &store.Checkpoint{
		Signature: c.sig,
		Kind:      string(c.spec.Kind),
		Sources:   append([]string(nil), c.spec.Sources...),
		UpdatedAt: time.Now().UTC(),
	}
	for _, u := range c.units() {
		cp.Cursors = append(cp.Cursors, store.Cursor{ContainerID: u.cursorKey})
	}
	return cp
}

// unit is one independently-cursored stream of work.
type unit struct {
	// cursorKey identifies the unit's cursor in the checkpoint.
	cursorKey string

	// snapshotID is the container whose listing feeds the unit.
	snapshotID string

	transfer transfer // unused for dedupe
	dedupe   bool
}

// units derives the work units in deterministic declaration order:
// consolidate cursors one per source, distribute one per destination,
// dedupe a single unit.
func (c *Command) units() []unit {
	switch c.spec.Kind {
	case KindConsolidate:
		dest := c.spec.Destinations[0]
		out := make([]unit, 0, len(c.spec.Sources))
		for _, src := range c.spec.Sources {
			out = append(out, unit{
				cursorKey:  src,
				snapshotID: src,
				transfer: transfer{
					SourceID:      src,
					DestinationID: dest.ContainerID,
					Criterion:     dest.Criterion,
					Move:          c.spec.Move,
					DryRun:        c.spec.DryRun,
				},
			})
		}
		return out

	case KindDistribute:
		src := c.spec.Sources[0]
		out := make([]unit, 0, len(c.spec.Destinations))
		for _, d := range c.spec.Destinations {
			out = append(out, unit{
				cursorKey:  d.ContainerID,
				snapshotID: src,
				transfer: transfer{
					SourceID:      src,
					DestinationID: d.ContainerID,
					Criterion:     d.Criterion,
					Move:          c.spec.Move,
					DryRun:        c.spec.DryRun,
				},
			})
		}
		return out

	default: // KindDedupe
		src := c.spec.Sources[0]
		return []unit{{cursorKey: src, snapshotID: src, dedupe: true}}
	}
}

// Step advances the operation by at most one batch. The host loop owns
// pacing: call Step until the returned status is terminal.
//
// Any unhandled failure persists the current checkpoint before reporting
// FAILED, so the operation stays resumable unless local state is corrupt.
func (c *Command) Step(ctx context.Context) (StepResult, error) {
	switch c.state {
	case StateResuming:
		c.state = StateRunning
	case StateRunning:
	default:
		return c.result(nil), fmt.Errorf("step from %s", c.state)
	}

	u, cur := c.nextUnit()
	if u == nil {
		return c.finish(ctx)
	}

	res, err := c.stepUnit(ctx, u, cur)
	return c.react(ctx, res, err)
}

// StepUnit advances a single work unit by index, sharing the command's
// checkpoint and ledger. Used by the parallel distribute runner; Step is the
// sequential entry point.
func (c *Command) stepUnit(ctx context.Context, u *unit, cur *store.Cursor) (*BatchResult, error) {
	snapshot, err := c.proc.Snapshot(ctx, u.snapshotID)
	if err != nil {
		return nil, err
	}
	if !c.counted[u.snapshotID] {
		c.counted[u.snapshotID] = true
		c.cp.Counted = append(c.cp.Counted, u.snapshotID)
		c.cp.TotalItems += len(snapshot)
	}

	if u.dedupe {
		return c.stepDedupe(ctx, u, cur, snapshot)
	}

	batchSize := c.batchBudget()
	if batchSize == 0 {
		cur.Done = true
		return &BatchResult{}, nil
	}

	batch := NextBatch(snapshot, cur.Position, batchSize)
	if len(batch) == 0 {
		cur.Done = true
		return &BatchResult{}, nil
	}

	res, err := c.proc.ProcessTransfer(ctx, u.transfer, batch)
	if err != nil {
		return nil, err
	}

	// Moved items left the source listing, so only the ones that stayed
	// advance the cursor; the next fresh snapshot starts the following
	// batch exactly where this one ended.
	cur.Position += len(batch) - res.RemovedFromSource
	c.processed += len(batch)
	return res, nil
}

// stepDedupe re-plans duplicates from the live snapshot each batch:
// removed occurrences vanish from the next listing, so the plan shrinks as
// the run progresses. Occurrences that failed this run are skipped rather
// than retried forever.
func (c *Command) stepDedupe(ctx context.Context, u *unit, cur *store.Cursor, snapshot []collection.Item) (*BatchResult, error) {
	plan := PlanDuplicates(snapshot)
	pending := plan[:0]
	for _, d := range plan {
		if !c.exhausted[dupKey(d)] {
			pending = append(pending, d)
		}
	}

	batchSize := c.batchBudget()
	if batchSize == 0 || len(pending) == 0 {
		cur.Done = true
		return &BatchResult{}, nil
	}
	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}

	res, err := c.proc.ProcessDedupe(ctx, u.snapshotID, pending, c.spec.DryRun)
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.Tag == OutcomeApplied {
			applied[o.ItemID] = true
		}
	}
	for _, d := range pending {
		if !applied[d.Item.ID] {
			c.exhausted[dupKey(d)] = true
		}
	}
	if c.spec.DryRun {
		// Nothing was mutated; a second pass would re-plan the same
		// duplicates, so one pass is the whole run.
		for _, d := range pending {
			c.exhausted[dupKey(d)] = true
		}
	}

	cur.Position += len(pending)
	c.processed += len(pending)
	return res, nil
}

func dupKey(d Duplicate) string {
	return fmt.Sprintf("%s@%d", d.Item.ID, d.Position)
}

// batchBudget returns the batch size, clipped by what remains of --limit.
func (c *Command) batchBudget() int {
	size := c.spec.EffectiveBatchSize()
	if c.spec.Limit == 0 {
		return size
	}
	left := c.spec.Limit - c.processed
	if left <= 0 {
		return 0
	}
	if left < size {
		return left
	}
	return size
}

// nextUnit returns the first unit whose cursor is not done, or nil.
func (c *Command) nextUnit() (*unit, *store.Cursor) {
	units := c.units()
	for i := range units {
		cur := c.cp.Cursor(units[i].cursorKey)
		if cur == nil || cur.Done {
			continue
		}
		return &units[i], cur
	}
	return nil, nil
}

// react folds a unit-step result into command state: checkpoint writes,
// undo records, and the state transitions of §RUNNING.
func (c *Command) react(ctx context.Context, res *BatchResult, err error) (StepResult, error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaBlocked) || IsQuotaFatal(err):
		// Not a failure: persist progress and hand control back to the user
		// to resume after rollover.
		c.state = StateQuotaBlocked
		if serr := c.persist(ctx); serr != nil {
			slog.Error("checkpoint save on quota halt failed", "error", serr)
		}
		return c.result(nil), nil
	default:
		c.state = StateFailed
		if serr := c.persist(ctx); serr != nil {
			slog.Error("checkpoint save on failure failed", "error", serr)
		}
		return c.result(nil), err
	}

	for _, o := range res.Outcomes {
		c.counts.Add(o)
	}

	if !c.spec.DryRun {
		if len(res.Undo) > 0 {
			if uerr := c.store.RecordUndo(ctx, c.sig, res.Undo); uerr != nil {
				c.state = StateFailed
				_ = c.persist(ctx)
				return c.result(res.Outcomes), uerr
			}
		}
		if serr := c.persist(ctx); serr != nil {
			c.state = StateFailed
			return c.result(res.Outcomes), serr
		}
	}

	if c.limitReached() {
		// The cap ends this run but the operation is not finished: the
		// checkpoint stays so a later run can continue.
		c.state = StateCompleted
		return c.result(res.Outcomes), nil
	}

	if u, _ := c.nextUnit(); u == nil {
		sr, err := c.finish(ctx)
		sr.Outcomes = res.Outcomes
		return sr, err
	}
	return c.result(res.Outcomes), nil
}

func (c *Command) limitReached() bool {
	return c.spec.Limit > 0 && c.processed >= c.spec.Limit
}

// finish clears the checkpoint and completes.
func (c *Command) finish(ctx context.Context) (StepResult, error) {
	if !c.spec.DryRun {
		if err := c.store.ClearCheckpoint(ctx, c.sig); err != nil {
			c.state = StateFailed
			return c.result(nil), err
		}
	}
	c.state = StateCompleted
	slog.Info("operation completed", "signature", c.sig, "processed", c.processed)
	return c.result(nil), nil
}

// persist writes the checkpoint with current progress. Durable before the
// caller acknowledges the batch.
func (c *Command) persist(ctx context.Context) error {
	if c.spec.DryRun {
		return nil
	}
	c.cp.Processed = c.processed
	c.cp.UpdatedAt = time.Now().UTC()
	return c.store.SaveCheckpoint(ctx, c.cp)
}

// Progress returns the current user-visible position.
func (c *Command) Progress() Progress {
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

func (c *Command) result(outcomes []Outcome) StepResult {
	return StepResult{Status: c.state, Progress: c.Progress(), Outcomes: outcomes}
}

func timeNow() time.Time {
	return time.Now().UTC()
}
