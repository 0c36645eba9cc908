package sim

import "time"

// FixedTickClock converts irregular wall-clock wakeups into a whole number
// of fixed-length simulation ticks. It accumulates real elapsed time and
// never reports fractional ticks; leftover time stays in the accumulator
// for the next call. When the process stalls for longer than the catch-up
// budget the excess is dropped so the loop cannot spiral.
type FixedTickClock struct {
	interval   time.Duration
	maxCatchup int

	last  time.Time
	accum time.Duration
}

func NewFixedTickClock(tickRateHz, maxCatchup int) *FixedTickClock {
	if tickRateHz <= 0 {
		tickRateHz = 1
	}
	if maxCatchup <= 0 {
		maxCatchup = 1
	}
	return &FixedTickClock{
		interval:   time.Second / time.Duration(tickRateHz),
		maxCatchup: maxCatchup,
	}
}

func (c *FixedTickClock) Interval() time.Duration { return c.interval }

// Advance reports how many whole ticks are due at time now, at most
// maxCatchup. The first call only anchors the clock and reports zero.
func (c *FixedTickClock) Advance(now time.Time) int {
	if c.last.IsZero() {
		c.last = now
		return 0
	}
	elapsed := now.Sub(c.last)
	c.last = now
	if elapsed < 0 {
		return 0
	}
	c.accum += elapsed

	n := int(c.accum / c.interval)
	if n <= 0 {
		return 0
	}
	c.accum -= time.Duration(n) * c.interval
	if n > c.maxCatchup {
		n = c.maxCatchup
		c.accum = 0
	}
	return n
}
