package engine

import "sync/atomic"

// Clock is the monotonic tick counter.
//
// Every tick is numbered by Clock.Next(). Numbers are strictly increasing
// and never reused, so log lines and debug output can be ordered by tick.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the Scheduler's single-writer design means only one goroutine
// typically calls Next().
type Clock struct {
	tick atomic.Uint64
}

// NewClock creates a new clock starting at 0. The first tick is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock whose next tick is start+1.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.tick.Store(start)
	return c
}

// Next returns the next tick number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.tick.Add(1)
}

// Current returns the last tick number handed out without incrementing.
func (c *Clock) Current() uint64 {
	return c.tick.Load()
}
