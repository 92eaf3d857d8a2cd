package engine

import "sync/atomic"

// LogicalClock issues the sequence numbers stamped onto trace events.
// The engine uses Clock unless one is injected through WithClock.
type LogicalClock interface {
	Next() int64
}

// Clock is the monotonic logical clock stamping trace events.
//
// Event ordering in the trace comes from this counter, never from
// wall-clock timestamps: two runs over identical inputs produce identically
// ordered traces, and causal relationships stay explicit even when
// completions land within the same millisecond.
//
// Thread-safe, though the scheduler's single-writer loop is normally the
// only caller.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
