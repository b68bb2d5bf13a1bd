/*
Package clock provides the process-wide reference time and the cadence gate
used by pipeline paths.

Clock is a monotonic microsecond counter. Waiter is a periodic gate built on
top of a Clock: every pipeline path owns one Waiter and calls Wait once per
produced unit of work.
*/
package clock

import (
	"time"
)

// Clock is a monotonic counter started at construction time. It is safe for
// concurrent use.
type Clock struct {
	start time.Time
}

// New returns a clock started now.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Elapsed returns the monotonic time elapsed since the clock was started.
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.start)
}

// Micros returns microseconds elapsed since the clock was started.
func (c *Clock) Micros() int64 {
	return c.Elapsed().Microseconds()
}

// Wall returns the wall clock time that corresponds to the provided
// microsecond timestamp of this clock.
func (c *Clock) Wall(us int64) time.Time {
	return c.start.Add(time.Duration(us) * time.Microsecond)
}
