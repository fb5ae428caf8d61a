// Package quota tracks the consumable daily cost budget of the remote
// collection service.
//
// The ledger is a leaf: it depends on nothing and is injected into the batch
// processor rather than looked up through a package global, so tests can
// substitute their own instance and clock.
package quota

import (
	"sync"
	"time"
)

// DefaultBudget is the service's default daily allowance in quota units.
const DefaultBudget = 10000

// DefaultResetZone is the timezone whose midnight resets the daily budget.
// The collection service meters quota against US Pacific time.
const DefaultResetZone = "America/Los_Angeles"

// Ledger tracks spend against a daily budget.
//
// Reserve/Commit form a two-phase charge around each remote call: Reserve
// holds the call's cost before the call is made, Commit converts the hold to
// spend after the call succeeds, Release drops the hold when the call fails
// so a retry cannot charge twice.
//
// INVARIANT: used + held never exceeds budget after a granted Reserve, and a
// denied Reserve mutates nothing.
//
// Thread-safety: all methods are safe for concurrent use. Parallel
// distribute workers share one Ledger; the mutex makes the check-and-hold in
// Reserve a single critical section so total spend stays under budget even
// under concurrency.
type Ledger struct {
	mu      sync.Mutex
	budget  int
	used    int
	held    int
	resetAt time.Time
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNow overrides the wall clock. Tests use this to simulate day rollover.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithZone sets the timezone whose midnight resets the budget.
func WithZone(loc *time.Location) Option {
	return func(l *Ledger) {
		l.loc = loc
	}
}

// NewLedger creates a ledger with the given daily budget. The reset
// timestamp is initialized to the next midnight in the reset zone.
func NewLedger(budget int, opts ...Option) *Ledger {
	l := &Ledger{
		budget: budget,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.loc == nil {
		loc, err := time.LoadLocation(DefaultResetZone)
		if err != nil {
			loc = time.UTC
		}
		l.loc = loc
	}
	l.resetAt = nextMidnight(l.now().In(l.loc))
	return l
}

// Reserve holds cost against the budget.
//
// Rolls the ledger over first if the current time has passed the stored
// reset timestamp. Returns true and holds cost only if used+held+cost fits
// the budget; otherwise returns false without mutating state.
//
// A false return is not an error. It is the normal signal that the caller
// must stop issuing remote calls and persist a checkpoint.
func (l *Ledger) Reserve(cost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()

	if l.used+l.held+cost > l.budget {
		return false
	}
	l.held += cost
	return true
}

// Commit converts a prior hold of cost into spend. Call exactly once per
// granted Reserve whose remote call succeeded.
func (l *Ledger) Commit(cost int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held -= cost
	if l.held < 0 {
		l.held = 0
	}
	l.used += cost
	if l.used > l.budget {
		l.used = l.budget
	}
}

// Release drops a prior hold of cost without spending it. Call when the
// remote call guarded by the hold failed and will not be retried under the
// same reservation.
func (l *Ledger) Release(cost int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held -= cost
	if l.held < 0 {
		l.held = 0
	}
}

// Remaining returns the budget still available to new reservations.
func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	return l.budget - l.used - l.held
}

// Used returns units spent today.
func (l *Ledger) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked()
	return l.used
}

// Budget returns the daily budget.
func (l *Ledger) Budget() int {
	return l.budget
}

// ResetAt returns the next rollover time.
func (l *Ledger) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resetAt
}

// rolloverLocked resets spend when the clock has passed the reset timestamp,
// advancing the timestamp by whole days until it is in the future. Caller
// holds the mutex.
func (l *Ledger) rolloverLocked() {
	now := l.now().In(l.loc)
	if now.Before(l.resetAt) {
		return
	}
	l.used = 0
	for !now.Before(l.resetAt) {
		l.resetAt = l.resetAt.AddDate(0, 0, 1)
	}
}

// nextMidnight returns the first midnight after t in t's location.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
