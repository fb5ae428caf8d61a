package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/sortd/sortd/internal/engine"
	"github.com/sortd/sortd/internal/quota"
)

// Report is the end-of-run summary for an operation, rendered as text or as
// the data payload of the JSON response.
type Report struct {
	Kind      string               `json:"kind"`
	Signature string               `json:"signature"`
	State     engine.State         `json:"state"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total_items"`
	Counts    engine.OutcomeCounts `json:"counts"`
	Quota     QuotaReport          `json:"quota"`
}

// QuotaReport is the ledger position at the end of a run.
type QuotaReport struct {
	Budget    int       `json:"budget"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func buildReport(kind string, prog engine.Progress, ledger *quota.Ledger) Report {
	return Report{
		Kind:      kind,
		Signature: prog.Signature,
		State:     prog.State,
		Processed: prog.Processed,
		Total:     prog.TotalItems,
		Counts:    prog.Counts,
		Quota: QuotaReport{
			Budget:    ledger.Budget(),
			Used:      ledger.Used(),
			Remaining: ledger.Remaining(),
			ResetAt:   ledger.ResetAt(),
		},
	}
}

// String renders the text form.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", r.Kind, r.Signature, r.State)
	fmt.Fprintf(&b, "processed %d of %d items\n", r.Processed, r.Total)
	fmt.Fprintf(&b, "  applied:                    %d\n", r.Counts.Applied)
	fmt.Fprintf(&b, "  skipped (no match):         %d\n", r.Counts.SkippedNoMatch)
	fmt.Fprintf(&b, "  skipped (invalid):          %d\n", r.Counts.SkippedInvalid)
	fmt.Fprintf(&b, "  failed (retries exhausted): %d\n", r.Counts.FailedRetry)
	fmt.Fprintf(&b, "quota: %d/%d used, %d remaining, resets %s",
		r.Quota.Used, r.Quota.Budget, r.Quota.Remaining,
		r.Quota.ResetAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}

// report prints the summary and maps the terminal state to an exit code:
// COMPLETED exits 0, QUOTA_BLOCKED and FAILED exit 1.
func (a *app) report(kind string, prog engine.Progress, runErr error) error {
	rep := buildReport(kind, prog, a.proc.Ledger)

	switch {
	case runErr != nil:
		_ = a.out.Error(string(engine.CodeOf(runErr)), runErr.Error(), rep)
		return WrapExitError(ExitFailure, "operation failed", runErr)
	case prog.State == engine.StateQuotaBlocked:
		if err := a.out.Success(rep); err != nil {
			return err
		}
		return NewExitError(ExitFailure,
			"quota exhausted before completion; re-run with --resume after the daily reset")
	default:
		return a.out.Success(rep)
	}
}
