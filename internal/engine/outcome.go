package engine

// OutcomeTag classifies the result of one item passing through a batch.
// Every item that enters a batch produces exactly one Outcome; none are
// silently dropped.
type OutcomeTag string

const (
	// OutcomeApplied means the mutation took effect for the item (including
	// a duplicate add, which the service treats as a no-op).
	OutcomeApplied OutcomeTag = "applied"

	// OutcomeSkippedNoMatch means the oracle classified the item as not
	// matching the destination's criterion.
	OutcomeSkippedNoMatch OutcomeTag = "skipped-no-match"

	// OutcomeSkippedInvalid means the item could not be acted on: the oracle
	// declined to classify it, or the service reported it missing or
	// forbidden.
	OutcomeSkippedInvalid OutcomeTag = "skipped-invalid"

	// OutcomeFailedRetryable means a retryable error survived every retry
	// attempt for this item.
	OutcomeFailedRetryable OutcomeTag = "failed-retryable-exhausted"
)

// Outcome is the per-item result of one batch.
type Outcome struct {
	ItemID string
	Tag    OutcomeTag

	// Detail carries the error text for failed or skipped items.
	Detail string
}

// OutcomeCounts aggregates outcomes by tag for user-facing reporting.
type OutcomeCounts struct {
	Applied        int `json:"applied"`
	SkippedNoMatch int `json:"skipped_no_match"`
	SkippedInvalid int `json:"skipped_invalid"`
	FailedRetry    int `json:"failed_retryable_exhausted"`
}

// Add counts one outcome.
func (c *OutcomeCounts) Add(o Outcome) {
	switch o.Tag {
	case OutcomeApplied:
		c.Applied++
	case OutcomeSkippedNoMatch:
		c.SkippedNoMatch++
	case OutcomeSkippedInvalid:
		c.SkippedInvalid++
	case OutcomeFailedRetryable:
		c.FailedRetry++
	}
}

// Total returns the number of counted outcomes.
func (c OutcomeCounts) Total() int {
	return c.Applied + c.SkippedNoMatch + c.SkippedInvalid + c.FailedRetry
}
