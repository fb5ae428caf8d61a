package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/store"
	"github.com/sortd/sortd/internal/testutil"
)

func TestPlanDuplicates_KeepsFirstOccurrence(t *testing.T) {
	snapshot := []collection.Item{
		{ID: "a", Title: "One"},
		{ID: "b", Title: "Two"},
		{ID: "a", Title: "One"},
		{ID: "c", Title: "Three"},
		{ID: "a", Title: "One"},
	}

	dups := PlanDuplicates(snapshot)
	require.Len(t, dups, 2)
	assert.Equal(t, 2, dups[0].Position)
	assert.Equal(t, 4, dups[1].Position)
	assert.True(t, dups[0].SameID)
	assert.Equal(t, 0, dups[0].KeptPosition)
}

func TestPlanDuplicates_FoldedTitleMatch(t *testing.T) {
	snapshot := []collection.Item{
		{ID: "a", Title: "Mix Tape"},
		{ID: "b", Title: "MIX TAPE"},
		{ID: "c", Title: "other"},
	}

	dups := PlanDuplicates(snapshot)
	require.Len(t, dups, 1)
	assert.Equal(t, "b", dups[0].Item.ID)
	assert.False(t, dups[0].SameID)
	assert.Equal(t, 0, dups[0].KeptPosition)
}

func TestPlanDuplicates_EmptyTitlesNeverCollide(t *testing.T) {
	snapshot := []collection.Item{
		{ID: "a", Title: ""},
		{ID: "b", Title: ""},
	}
	assert.Empty(t, PlanDuplicates(snapshot))
}

func TestProcessDedupe_RemovesTitleDuplicates(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetItem(collection.Item{ID: "a", Title: "Song"})
	svc.SetItem(collection.Item{ID: "b", Title: "song"})
	svc.SetContainer("pl", "a", "b")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	snapshot, _ := p.Snapshot(context.Background(), "pl")
	dups := PlanDuplicates(snapshot)
	require.Len(t, dups, 1)

	res, err := p.ProcessDedupe(context.Background(), "pl", dups, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, svc.Container("pl"))
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, OutcomeApplied, res.Outcomes[0].Tag)

	// Undo restores the removed occurrence at its recorded position.
	require.Len(t, res.Undo, 1)
	assert.Equal(t, store.UndoInsertAt, res.Undo[0].Op)
	assert.Equal(t, 1, res.Undo[0].Position)
}

func TestProcessDedupe_SameIDRestoresKeptOccurrence(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetItem(collection.Item{ID: "x", Title: "Repeat"})
	svc.SetContainer("pl", "x", "y", "x")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	snapshot, _ := p.Snapshot(context.Background(), "pl")
	dups := PlanDuplicates(snapshot)
	require.Len(t, dups, 1)

	_, err := p.ProcessDedupe(context.Background(), "pl", dups, false)
	require.NoError(t, err)

	// Removing by ID drops both occurrences; the kept one is re-inserted
	// at its original position.
	assert.Equal(t, []string{"x", "y"}, svc.Container("pl"))
	// One remove call plus one restoring insert.
	assert.Equal(t, 2*collection.MutateCost, p.Ledger.Used())
}

func TestProcessDedupe_QuotaBlockedBeforeCall(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("pl", "x", "x")
	p := newProcessor(svc, testutil.NewFakeOracle(), collection.ListCost)

	snapshot, _ := p.Snapshot(context.Background(), "pl")
	dups := PlanDuplicates(snapshot)

	_, err := p.ProcessDedupe(context.Background(), "pl", dups, false)
	assert.ErrorIs(t, err, ErrQuotaBlocked)
	assert.Equal(t, 0, svc.RemoveCalls)
}

func TestProcessDedupe_DryRunReportsWithoutMutation(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("pl", "x", "x")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	snapshot, _ := p.Snapshot(context.Background(), "pl")
	dups := PlanDuplicates(snapshot)

	res, err := p.ProcessDedupe(context.Background(), "pl", dups, true)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.RemoveCalls)
	assert.Equal(t, []string{"x", "x"}, svc.Container("pl"))
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "dry-run", res.Outcomes[0].Detail)
}
