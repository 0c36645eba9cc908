package worldtest

import (
	"testing"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

// driveConstantRight sends one redundant packet per tick, each carrying
// the last three sequences, with the right button held the whole time.
// Packets for which lost returns true never reach the world. It returns
// the snapshot the client saw after every tick.
func driveConstantRight(t *testing.T, h *Harness, id string, ticks int, lost func(packet int) bool) []protocol.SnapshotMsg {
	t.Helper()
	snaps := make([]protocol.SnapshotMsg, 0, ticks)
	for i := 1; i <= ticks; i++ {
		var inputs []world.InputEnvelope
		if lost == nil || !lost(i) {
			var recs []protocol.CommandRecord
			for s := i - 2; s <= i; s++ {
				if s < 1 {
					continue
				}
				recs = append(recs, protocol.CommandRecord{
					Seq:     uint32(s),
					Buttons: uint8(sim.ButtonRight),
					AimX:    1,
					Tick:    uint64(s),
				})
			}
			inputs = append(inputs, Input(id, recs...))
		}
		h.Step(inputs, nil)
		snaps = append(snaps, h.LastSnap(id))
	}
	return snaps
}

// Losing every seventh packet costs nothing when each packet resends the
// last three sequences: every command still gets applied exactly once, in
// order, and the trajectory matches a lossless run tick for tick worth of
// motion. The queue never has to skip a gap.
func TestScenario_RedundantResendsCoverPacketLoss(t *testing.T) {
	cfg := scenarioConfig("redundancy", 4242)
	const driveTicks = 20

	lossy := NewHarness(t, cfg)
	lossyID := lossy.Join("alice")
	lossySnaps := driveConstantRight(t, lossy, lossyID, driveTicks, func(p int) bool { return p%7 == 0 })

	clean := NewHarness(t, cfg)
	cleanID := clean.Join("alice")
	driveConstantRight(t, clean, cleanID, driveTicks, nil)

	// The ack never goes backwards and never jumps: redundant resends are
	// absorbed, not applied twice, and no sequence is passed over.
	prev := uint32(0)
	for i, snap := range lossySnaps {
		if snap.LastInput < prev {
			t.Fatalf("tick %d: ack went backwards %d -> %d", i+1, prev, snap.LastInput)
		}
		if snap.LastInput > prev+1 {
			t.Fatalf("tick %d: ack jumped %d -> %d", i+1, prev, snap.LastInput)
		}
		prev = snap.LastInput
	}

	// One flush tick: the lossy queue still holds the final sequence (a
	// lost packet leaves it running one behind), the clean one starves.
	lossy.StepNoop()
	clean.StepNoop()

	lossyFinal := SnapState(t, lossy.LastSnap(lossyID), lossyID)
	cleanFinal := SnapState(t, clean.LastSnap(cleanID), cleanID)
	if lossyFinal.LastInput != driveTicks {
		t.Fatalf("lossy run acked %d, want %d", lossyFinal.LastInput, driveTicks)
	}
	if lossyFinal != cleanFinal {
		t.Fatalf("trajectories diverged:\n lossy %+v\n clean %+v", lossyFinal, cleanFinal)
	}

	m := lossy.W.Metrics()
	if m.GapSkips != 0 {
		t.Fatalf("gap skips under recoverable loss: %d", m.GapSkips)
	}
	if m.DuplicateInputs == 0 {
		t.Fatalf("no duplicates recorded; resends were not exercised")
	}
	if m.StaleInputs == 0 {
		t.Fatalf("no stale drops recorded; resends were not exercised")
	}
	if m.FloodRejects != 0 {
		t.Fatalf("flood rejects on a well-behaved client: %d", m.FloodRejects)
	}
	// Held steps: the join tick plus the first lost packet. The second
	// loss lands after late sequences have left a one-deep backlog, and
	// that backlog feeds the starved tick instead.
	if m.HeldSteps != 2 {
		t.Fatalf("held steps: %d, want 2", m.HeldSteps)
	}
}

// Four consecutive lost packets open a hole wider than the resend window:
// two sequences are gone for good. The queue idles while empty, holds two
// ticks once newer input is buffered, then skips the hole exactly once
// and drains everything after it.
func TestScenario_HoldThenSkipOnUnrecoverableGap(t *testing.T) {
	cfg := scenarioConfig("gap-skip", 4242)
	const driveTicks = 20

	h := NewHarness(t, cfg)
	p1 := h.Join("alice")
	snaps := driveConstantRight(t, h, p1, driveTicks, func(p int) bool { return p >= 8 && p <= 11 })

	// Packets 8..11 lost with a three-deep window: sequences 8 and 9 are
	// never delivered. Input resumes at tick 12 carrying 10,11,12; the
	// queue holds two ticks for sequence 8, then skips to 10.
	if got := snaps[12].LastInput; got != 7 {
		t.Fatalf("ack during hold: %d, want 7", got)
	}
	if got := snaps[13].LastInput; got != 10 {
		t.Fatalf("ack after skip: %d, want 10", got)
	}

	// Flush the backlog the skip left behind.
	for i := 0; i < 4; i++ {
		h.StepNoop()
	}
	final := h.LastSnap(p1)
	if final.LastInput != driveTicks {
		t.Fatalf("final ack %d, want %d", final.LastInput, driveTicks)
	}

	m := h.W.Metrics()
	if m.GapSkips != 1 {
		t.Fatalf("gap skips: %d, want exactly 1", m.GapSkips)
	}
	// Join tick, four empty ticks while the link was dark, two hold
	// ticks waiting on sequence 8.
	if m.HeldSteps != 7 {
		t.Fatalf("held steps: %d, want 7", m.HeldSteps)
	}
	if m.QueuedInputs != 0 {
		t.Fatalf("queue not drained: %d commands left", m.QueuedInputs)
	}
}

// A sequence far beyond the ahead limit is rejected and the sender is
// told so on its own channel; commands inside the window still apply.
func TestScenario_FloodedClientGetsErrorFrame(t *testing.T) {
	cfg := scenarioConfig("flood", 4242)
	h := NewHarness(t, cfg)
	p1 := h.Join("alice")

	h.Step([]world.InputEnvelope{Input(p1,
		protocol.CommandRecord{Seq: 1, Buttons: uint8(sim.ButtonRight), AimX: 1},
		protocol.CommandRecord{Seq: 100, Buttons: uint8(sim.ButtonRight), AimX: 1},
	)}, nil)

	errs := h.Errors(p1)
	if len(errs) != 1 || errs[0].Code != protocol.ErrInputFlood {
		t.Fatalf("error frames: %+v, want one %s", errs, protocol.ErrInputFlood)
	}
	if got := h.LastSnap(p1).LastInput; got != 1 {
		t.Fatalf("in-window command not applied: ack %d", got)
	}
	if m := h.W.Metrics(); m.FloodRejects != 1 {
		t.Fatalf("flood rejects: %d, want 1", m.FloodRejects)
	}
}
