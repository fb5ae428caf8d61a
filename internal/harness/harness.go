package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/sortd/sortd/internal/cache"
	"github.com/sortd/sortd/internal/collection"
	"github.com/sortd/sortd/internal/engine"
	"github.com/sortd/sortd/internal/library"
	"github.com/sortd/sortd/internal/quota"
	"github.com/sortd/sortd/internal/store"
	"github.com/sortd/sortd/internal/testutil"
)

// scenarioEpoch is the fixed wall clock every scenario runs at, so quota
// reset timestamps and TTLs never depend on the test machine's clock.
var scenarioEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Result is the observable product of one scenario run.
type Result struct {
	State      engine.State
	Counts     engine.OutcomeCounts
	Processed  int
	TotalItems int
	QuotaUsed  int

	// Playlists is the final membership, in scenario declaration order.
	Playlists []PlaylistResult

	// UndoneActions counts successfully reversed actions when the scenario
	// asked for an undo.
	UndoneActions int
}

// PlaylistResult is one playlist's final item ids.
type PlaylistResult struct {
	ID    string
	Items []string
}

// Run executes a scenario: build the fake service from the declared
// playlists, drive the operation to a terminal state, optionally undo, and
// snapshot what is observable afterwards.
func Run(sc *Scenario) (*Result, error) {
	ctx := context.Background()

	svc := testutil.NewFakeService()
	for _, pl := range sc.Playlists {
		ids := make([]string, 0, len(pl.Items))
		for _, it := range pl.Items {
			svc.SetItem(collection.Item{ID: it.ID, Title: it.Title, Description: it.Description})
			ids = append(ids, it.ID)
		}
		svc.SetContainer(pl.ID, ids...)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	defer st.Close()

	now := func() time.Time { return scenarioEpoch }
	proc := &engine.BatchProcessor{
		Service: svc,
		Oracle:  library.KeywordOracle{},
		Ledger:  quota.NewLedger(sc.Budget, quota.WithNow(now), quota.WithZone(time.UTC)),
		Cache:   cache.New(cache.WithNow(now)),
		Caller: &engine.RetryingCaller{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Tokens:      &testutil.FakeTokens{},
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	}

	cmd := engine.NewCommand(proc, st, sc.spec(), false)
	sig, err := cmd.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: start: %w", sc.Name, err)
	}
	prog, err := cmd.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: run: %w", sc.Name, err)
	}

	res := &Result{
		State:      prog.State,
		Counts:     prog.Counts,
		Processed:  prog.Processed,
		TotalItems: prog.TotalItems,
	}

	if sc.Undo {
		undone, err := engine.Undo(ctx, proc, st, sig)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: undo: %w", sc.Name, err)
		}
		for _, u := range undone {
			if u.Error == "" {
				res.UndoneActions++
			}
		}
	}

	res.QuotaUsed = proc.Ledger.Used()
	for _, pl := range sc.Playlists {
		items := svc.Container(pl.ID)
		if items == nil {
			items = []string{}
		}
		res.Playlists = append(res.Playlists, PlaylistResult{ID: pl.ID, Items: items})
	}
	return res, nil
}
