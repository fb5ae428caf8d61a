// Package testutil provides in-memory doubles for the engine's external
// collaborators: a fake collection service, a scripted oracle, and a manual
// wall clock. Tests drive complete operations through these without touching
// the network.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a settable wall clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current frozen time. Pass the method value as the now
// function to quota.WithNow or cache.WithNow.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
