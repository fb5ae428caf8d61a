package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// snapshot is the canonical JSON form compared against golden files. Field
// order is fixed by the struct, so serialization is deterministic.
type snapshot struct {
	ScenarioName  string             `json:"scenario_name"`
	State         string             `json:"state"`
	Processed     int                `json:"processed"`
	TotalItems    int                `json:"total_items"`
	Counts        countsSnapshot     `json:"counts"`
	QuotaUsed     int                `json:"quota_used"`
	Playlists     []playlistSnapshot `json:"playlists"`
	UndoneActions int                `json:"undone_actions,omitempty"`
}

type countsSnapshot struct {
	Applied        int `json:"applied"`
	SkippedNoMatch int `json:"skipped_no_match"`
	SkippedInvalid int `json:"skipped_invalid"`
	FailedRetry    int `json:"failed_retryable_exhausted"`
}

type playlistSnapshot struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) error {
	t.Helper()

	result, err := Run(sc)
	if err != nil {
		return err
	}

	snap := snapshot{
		ScenarioName: sc.Name,
		State:        string(result.State),
		Processed:    result.Processed,
		TotalItems:   result.TotalItems,
		Counts: countsSnapshot{
			Applied:        result.Counts.Applied,
			SkippedNoMatch: result.Counts.SkippedNoMatch,
			SkippedInvalid: result.Counts.SkippedInvalid,
			FailedRetry:    result.Counts.FailedRetry,
		},
		QuotaUsed:     result.QuotaUsed,
		UndoneActions: result.UndoneActions,
	}
	for _, pl := range result.Playlists {
		snap.Playlists = append(snap.Playlists, playlistSnapshot{ID: pl.ID, Items: pl.Items})
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, raw)

	return nil
}
