// Package testutil provides deterministic clocks for tests.
package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a wall-clock source that advances by a fixed step on
// every call. It makes startedAt/packedAt timestamps deterministic and
// strictly increasing without sleeping.
//
// Thread-safety: all methods are safe for concurrent use.
type SteppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSteppingClock creates a clock starting at start, advancing by step on
// each Now() call. The first call returns start + step.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{now: start, step: step}
}

// Now advances the clock and returns the new time.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Set repositions the clock. The next Now() returns t + step.
func (c *SteppingClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
