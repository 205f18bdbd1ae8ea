package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a manually advanced wall clock for tests.
//
// Tier dwell timing and pipeline stability windows compare timestamps;
// injecting this clock through the WithNow options makes those comparisons
// exact instead of sleep-based.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicClock creates a clock pinned to start.
//
// Tests that only care about elapsed durations can pass any fixed instant,
// typically time.Unix(0, 0).
func NewDeterministicClock(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start}
}

// Now returns the current instant without advancing.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
//
// Negative d is a programming error in the test; the clock never moves
// backward.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("testutil: clock moved backward")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to a specific instant for test reuse.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
