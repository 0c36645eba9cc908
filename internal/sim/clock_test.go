package sim

import (
	"testing"
	"time"
)

func TestFixedTickClock_WholeTicksOnly(t *testing.T) {
	c := NewFixedTickClock(20, 5) // 50ms ticks
	base := time.Unix(1000, 0)

	if n := c.Advance(base); n != 0 {
		t.Fatalf("first call should anchor only, got %d ticks", n)
	}
	if n := c.Advance(base.Add(49 * time.Millisecond)); n != 0 {
		t.Fatalf("49ms should not produce a tick, got %d", n)
	}
	// 49ms already accumulated; 26ms more crosses one boundary.
	if n := c.Advance(base.Add(75 * time.Millisecond)); n != 1 {
		t.Fatalf("want 1 tick at 75ms, got %d", n)
	}
	// 25ms left over; 125ms more = 150ms total = 3 ticks.
	if n := c.Advance(base.Add(200 * time.Millisecond)); n != 3 {
		t.Fatalf("want 3 ticks, got %d", n)
	}
}

func TestFixedTickClock_NoDriftOverTime(t *testing.T) {
	c := NewFixedTickClock(20, 100)
	base := time.Unix(2000, 0)
	c.Advance(base)

	// Wake at irregular offsets; total ticks over exactly 10s must be 200.
	offsets := []time.Duration{
		33 * time.Millisecond, 71 * time.Millisecond, 5 * time.Millisecond,
		120 * time.Millisecond, 48 * time.Millisecond, 99 * time.Millisecond,
	}
	total := 0
	now := base
	elapsed := time.Duration(0)
	for elapsed < 10*time.Second {
		d := offsets[total%len(offsets)]
		if elapsed+d > 10*time.Second {
			d = 10*time.Second - elapsed
		}
		elapsed += d
		now = now.Add(d)
		total += c.Advance(now)
	}
	if total != 200 {
		t.Fatalf("ticks over 10s at 20Hz = %d, want 200", total)
	}
}

func TestFixedTickClock_CatchupClamp(t *testing.T) {
	c := NewFixedTickClock(20, 4)
	base := time.Unix(3000, 0)
	c.Advance(base)

	// A 2s stall is 40 ticks of debt; the clamp drops all but 4.
	if n := c.Advance(base.Add(2 * time.Second)); n != 4 {
		t.Fatalf("want clamp to 4 ticks, got %d", n)
	}
	// The dropped debt must not leak into the next interval.
	if n := c.Advance(base.Add(2*time.Second + 49*time.Millisecond)); n != 0 {
		t.Fatalf("debt leaked past clamp: got %d ticks", n)
	}
}

func TestFixedTickClock_BackwardsTimeIgnored(t *testing.T) {
	c := NewFixedTickClock(20, 5)
	base := time.Unix(4000, 0)
	c.Advance(base)
	if n := c.Advance(base.Add(-time.Second)); n != 0 {
		t.Fatalf("backwards time produced %d ticks", n)
	}
}
