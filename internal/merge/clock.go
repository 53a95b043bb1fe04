package merge

import "time"

// Clock supplies timestamps to the machine. Injectable so tests can run
// against a deterministic time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	Current time.Time
}

// NewFakeClock starts at a fixed, arbitrary instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time { return c.Current }

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }
