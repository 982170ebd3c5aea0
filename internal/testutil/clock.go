package testutil

import "sync"

// DeterministicClock is a thread-safe fake clock yielding event timestamps
// (seconds since the epoch) for tests.
//
// Each Next advances by a fixed step, so timestamps are distinct, ordered
// and identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start float64
	step  float64
	now   float64
}

// NewDeterministicClock creates a clock at start advancing by step.
//
// The first call to Next() returns start+step.
func NewDeterministicClock(start, step float64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start}
}

// Next advances the clock and returns the new time.
//
// Monotonic: never decreases for a positive step.
func (c *DeterministicClock) Next() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset moves the clock back to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
