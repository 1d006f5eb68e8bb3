package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manually advanced time source shared by services under test.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock set to start, or to ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start.UTC()}
}

// Now returns the instant the clock currently points at.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc returns Now for injection into service dependencies. A nil clock
// falls back to the wall clock.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant. Booking
// windows are expressed in whole minutes, so tests usually advance by hours.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
