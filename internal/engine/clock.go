// Package engine implements the realtime conversation reconciliation engine:
// it consumes typed events describing a live phone call and produces a
// deterministically ordered, duplicate-free timeline.
package engine

import "sync"

// SequenceClock issues a monotonically increasing integer per session. It is
// the sole disambiguator when two timeline items share a creation time. The
// counter is scoped to one session and resets to zero for the next one.
type SequenceClock struct {
	mu sync.Mutex
	n  int64
}

// Next returns the next sequence number.
func (c *SequenceClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Current returns the last issued sequence number without advancing.
func (c *SequenceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to zero for a new session.
func (c *SequenceClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
