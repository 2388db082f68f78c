package sync

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing timestamps so that rows can be paged
// by updated_at without gaps or ties.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock returns a clock that never goes below last.
func NewClock(now func() time.Time, last time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: last}
}

// Next returns a timestamp after every previous one.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
