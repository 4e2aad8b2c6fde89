package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant returned by a FixedClock created with a
// zero start.
var DefaultEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FixedClock is a deterministic domain.Clock for tests.
//
// Every call to Now advances the clock by a fixed step, so timestamps are
// strictly increasing and identical across runs of the same scenario.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewFixedClock creates a clock whose first Now returns start. A zero start
// uses DefaultEpoch; a non-positive step uses one millisecond.
func NewFixedClock(start time.Time, step time.Duration) *FixedClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	if step <= 0 {
		step = time.Millisecond
	}
	return &FixedClock{start: start.UTC(), step: step}
}

// Now returns the next instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *FixedClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock so the next Now returns start again.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
