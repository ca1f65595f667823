package engine

import "sync/atomic"

// Clock is a monotonic logical clock for event ordering.
//
// Every emitted event is stamped with a strictly increasing seq number.
// Ordering decisions never use wall-clock time; wall time appears only in
// the startedAt/packedAt timestamps of domain records.
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// single-writer loop is normally the only caller of Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
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
