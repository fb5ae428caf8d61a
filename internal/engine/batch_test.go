package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortd/sortd/internal/cache"
	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/quota"
	"github.com/sortd/sortd/internal/testutil"
)

// fastCaller retries without sleeping.
func fastCaller() *RetryingCaller {
	return &RetryingCaller{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func newProcessor(svc *testutil.FakeService, oracle *testutil.FakeOracle, budget int) *BatchProcessor {
	return &BatchProcessor{
		Service: svc,
		Oracle:  oracle,
		Ledger:  quota.NewLedger(budget, quota.WithZone(time.UTC)),
		Cache:   cache.New(),
		Caller:  fastCaller(),
	}
}

func TestNextBatch_DeterministicBoundaries(t *testing.T) {
	snapshot := []collection.Item{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}

	first := NextBatch(snapshot, 0, 2)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)

	// Same cursor over the same snapshot: same boundaries.
	again := NextBatch(snapshot, 0, 2)
	assert.Equal(t, first, again)

	last := NextBatch(snapshot, 4, 2)
	require.Len(t, last, 1)
	assert.Equal(t, "e", last[0].ID)

	assert.Nil(t, NextBatch(snapshot, 5, 2))
}

func TestSnapshot_ReadThroughCachesListing(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a", "b", "c")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	first, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 1, svc.ListCalls)

	// Second snapshot is served from cache: no new call, no new charge.
	used := p.Ledger.Used()
	_, err = p.Snapshot(context.Background(), "src")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ListCalls)
	assert.Equal(t, used, p.Ledger.Used())
}

func TestSnapshot_PaginatesAndChargesPerPage(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.PageSize = 2
	svc.SetContainer("src", "a", "b", "c", "d", "e")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	items, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)
	assert.Len(t, items, 5)
	assert.Equal(t, 3, svc.ListCalls)
	assert.Equal(t, 3*collection.ListCost, p.Ledger.Used())
}

func TestSnapshot_QuotaBlockedWithoutCall(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a")
	p := newProcessor(svc, testutil.NewFakeOracle(), 0)

	_, err := p.Snapshot(context.Background(), "src")
	assert.ErrorIs(t, err, ErrQuotaBlocked)
	assert.Equal(t, 0, svc.ListCalls)
}

func TestProcessTransfer_CopyAppliesMatches(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetItem(collection.Item{ID: "a", Title: "smooth jazz"})
	svc.SetItem(collection.Item{ID: "b", Title: "metal hour"})
	svc.SetContainer("src", "a", "b")
	svc.SetContainer("dest")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	batch, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)

	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest", Criterion: "jazz"}, batch)
	require.NoError(t, err)

	// Outcome completeness: one outcome per batch item.
	require.Len(t, res.Outcomes, 2)
	tags := map[string]OutcomeTag{}
	for _, o := range res.Outcomes {
		tags[o.ItemID] = o.Tag
	}
	assert.Equal(t, OutcomeApplied, tags["a"])
	assert.Equal(t, OutcomeSkippedNoMatch, tags["b"])

	assert.Equal(t, []string{"a"}, svc.Container("dest"))
	assert.Equal(t, []string{"a", "b"}, svc.Container("src"), "copy leaves source intact")
	assert.Equal(t, 0, res.RemovedFromSource)

	// Copy's inverse: remove from destination.
	require.Len(t, res.Undo, 1)
	assert.Equal(t, "dest", res.Undo[0].ContainerID)
}

func TestProcessTransfer_MoveRemovesFromSource(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a", "b")
	svc.SetContainer("dest")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	batch, _ := p.Snapshot(context.Background(), "src")
	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest", Move: true}, batch)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, svc.Container("dest"))
	assert.Empty(t, svc.Container("src"))
	assert.Equal(t, 2, res.RemovedFromSource)

	// Move's inverse is move back: remove from dest plus add to source.
	assert.Len(t, res.Undo, 4)

	// Add call and remove call each cost a flat unit price.
	assert.Equal(t, 2*collection.MutateCost, p.Ledger.Used())
}

func TestProcessTransfer_QuotaBlockedBeforeCall(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a")
	svc.SetContainer("dest")
	p := newProcessor(svc, testutil.NewFakeOracle(), collection.ListCost)

	batch, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)

	_, err = p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest"}, batch)
	assert.ErrorIs(t, err, ErrQuotaBlocked)
	assert.Equal(t, 0, svc.AddCalls, "denied reserve makes no remote call")
	assert.Equal(t, collection.ListCost, p.Ledger.Used(), "denial mutates nothing")
}

func TestProcessTransfer_CacheInvalidatedBeforeReporting(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a")
	svc.SetContainer("dest", "x")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	// Warm both listings.
	_, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)
	_, err = p.Snapshot(context.Background(), "dest")
	require.NoError(t, err)

	batch, _ := p.Snapshot(context.Background(), "src")
	_, err = p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest", Move: true}, batch)
	require.NoError(t, err)

	// Cache coherence: the next read reflects the mutation, not the
	// pre-mutation cached listing.
	dest, err := p.Snapshot(context.Background(), "dest")
	require.NoError(t, err)
	ids := itemIDs(dest)
	assert.Equal(t, []string{"x", "a"}, ids)

	src, err := p.Snapshot(context.Background(), "src")
	require.NoError(t, err)
	assert.Empty(t, src)
}

func TestProcessTransfer_ItemFatalDoesNotAbortBatch(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a", "b", "c")
	svc.SetContainer("dest")
	svc.MarkMissing("b")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	batch, _ := p.Snapshot(context.Background(), "src")
	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest"}, batch)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 3)
	var counts OutcomeCounts
	for _, o := range res.Outcomes {
		counts.Add(o)
	}
	assert.Equal(t, 2, counts.Applied)
	assert.Equal(t, 1, counts.SkippedInvalid)
}

func TestProcessTransfer_RetryExhaustionFailsItemsNotRun(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a", "b")
	svc.SetContainer("dest")
	for i := 0; i < 3; i++ {
		svc.FailNext("add", NewOpError(ErrCodeNetwork, "flaky"))
	}
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	batch, _ := p.Snapshot(context.Background(), "src")
	used := p.Ledger.Used()
	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest"}, batch)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	for _, o := range res.Outcomes {
		assert.Equal(t, OutcomeFailedRetryable, o.Tag)
	}
	// The hold was released: nothing was spent on the failed call.
	assert.Equal(t, used, p.Ledger.Used())
	assert.Equal(t, 1000-used, p.Ledger.Remaining())
}

func TestProcessTransfer_OracleDeclinedIsSkippedInvalid(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetItem(collection.Item{ID: "a", Title: "jazz one"})
	svc.SetItem(collection.Item{ID: "b", Title: "jazz two"})
	svc.SetContainer("src", "a", "b")
	svc.SetContainer("dest")
	oracle := testutil.NewFakeOracle()
	oracle.Decline("b")
	p := newProcessor(svc, oracle, 1000)

	batch, _ := p.Snapshot(context.Background(), "src")
	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest", Criterion: "jazz"}, batch)
	require.NoError(t, err)

	tags := map[string]OutcomeTag{}
	for _, o := range res.Outcomes {
		tags[o.ItemID] = o.Tag
	}
	assert.Equal(t, OutcomeApplied, tags["a"])
	assert.Equal(t, OutcomeSkippedInvalid, tags["b"])
}

func TestProcessTransfer_DryRunMakesNoCallsOrCharges(t *testing.T) {
	svc := testutil.NewFakeService()
	svc.SetContainer("src", "a")
	svc.SetContainer("dest")
	p := newProcessor(svc, testutil.NewFakeOracle(), 1000)

	batch, _ := p.Snapshot(context.Background(), "src")
	used := p.Ledger.Used()
	res, err := p.ProcessTransfer(context.Background(),
		transfer{SourceID: "src", DestinationID: "dest", Move: true, DryRun: true}, batch)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.AddCalls)
	assert.Equal(t, used, p.Ledger.Used())
	assert.Empty(t, res.Undo)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, OutcomeApplied, res.Outcomes[0].Tag)
	assert.Equal(t, []string{"a"}, svc.Container("src"))
}
