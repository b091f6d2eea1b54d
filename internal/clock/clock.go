package clock

import (
	"sync"
	"time"
)

// Clock returns the instant at which a write is accepted.
type Clock interface {
	Now() time.Time
}

// Monotonic is a wall clock that never repeats or goes backwards within a
// process. If the system clock did not advance since the previous call (or
// was stepped back), the previous instant plus one nanosecond is returned.
type Monotonic struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonic creates a Monotonic clock backed by time.Now.
func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

// Now returns a strictly increasing UTC instant without a monotonic reading,
// so the value compares the same before and after a wire round-trip.
func (c *Monotonic) Now() time.Time {
	t := c.now().Round(0).UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// Manual is a clock whose time only moves when told to. Tests use it to build
// precise timestamp orderings.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.Round(0).UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.Round(0).UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// ToWire encodes t as nanoseconds since the Unix epoch.
func ToWire(t time.Time) int64 {
	return t.UnixNano()
}

// FromWire decodes a ToWire value.
func FromWire(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// Millis returns t as milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
