package journal

import "sync/atomic"

// Clock hands out journal sequence numbers. Values only grow, and Restore
// resumes past the last archived event, so a seq is never reused across
// compaction. Wall time plays no part in ordering.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// ResumeAfter makes seq+1 the next value handed out. It never moves the
// clock backward.
func (c *Clock) ResumeAfter(seq int64) {
	for {
		cur := c.last.Load()
		if seq <= cur || c.last.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Next consumes and returns the next seq.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current is the last seq handed out, or 0.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
