package world

import (
	"math"
	"sort"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

// resolveClaim judges one hit claim against rewound history. The
// claimant names the tick it was rendering (or, failing that, its
// latency); the server honors that only as far as the connection's
// measured RTT, the compensation cap, and the retained history allow.
// A claim asking for more rewind than allowed is clamped to the limit
// and still judged, never rejected outright.
func (w *World) resolveClaim(shooter *Entity, cl *clientState, claim protocol.HitClaimMsg, nowTick uint64) protocol.HitResultMsg {
	w.counters.claimsResolved++
	res := protocol.HitResultMsg{ClaimID: claim.ClaimID}

	if claim.AimX == 0 && claim.AimY == 0 {
		res.Code = protocol.ErrBadRequest
		w.counters.claimsRejected++
		return res
	}

	var claimedOffset uint64
	switch {
	case claim.RenderTick != 0:
		if claim.RenderTick <= nowTick {
			claimedOffset = nowTick - claim.RenderTick
		}
	case claim.LatencyMs > 0:
		claimedOffset = w.ticksFromMs(claim.LatencyMs)
	}

	offset := claimedOffset
	if cl != nil && cl.rttKnown {
		// One way plus headroom. A client cannot claim more lag than
		// its own traffic shows.
		allowed := w.ticksFromMs(int64(cl.rttMs/2*1.5)) + 1
		if offset > allowed {
			offset = allowed
		}
	}
	if offset > w.maxCompTicks {
		offset = w.maxCompTicks
	}
	if offset > nowTick {
		offset = nowTick
	}

	rewindTick := nowTick - offset
	if oldest := w.history.OldestTick(nowTick); rewindTick < oldest {
		rewindTick = oldest
	}
	if nowTick-rewindTick < claimedOffset {
		w.counters.claimsClamped++
	}

	frame, ok := w.history.At(rewindTick)
	if !ok {
		res.Code = protocol.ErrStale
		w.counters.claimsRejected++
		return res
	}
	res.RewindTick = rewindTick

	// Shooter fires from where they are now; targets stand where the
	// shooter saw them. Nearest intersection wins, ties by id.
	origin := shooter.State.Pos
	dir := sim.Vec2{X: claim.AimX, Y: claim.AimY}
	bestID := ""
	bestT := math.MaxFloat64
	for _, id := range sortedFrameIDs(frame) {
		if id == shooter.ID {
			continue
		}
		t, hit := w.hitTest(origin, dir, w.cfg.Movement.RayRange, frame[id], w.cfg.Movement.HitRadius)
		if hit && t < bestT {
			bestT = t
			bestID = id
		}
	}
	if bestID != "" {
		res.Hit = true
		res.Target = bestID
		w.counters.claimsHit++
		return res
	}
	if claim.TargetHint != "" {
		if _, present := frame[claim.TargetHint]; !present {
			res.Code = protocol.ErrInvalidTarget
		}
	}
	return res
}

// ticksFromMs converts a duration to whole ticks, rounding to nearest
// so a latency just under half a tick does not lose its whole tick.
func (w *World) ticksFromMs(ms int64) uint64 {
	if ms <= 0 {
		return 0
	}
	return uint64(math.Round(float64(ms) * float64(w.cfg.TickRateHz) / 1000.0))
}

func sortedFrameIDs(frame map[string]sim.Vec2) []string {
	ids := make([]string, 0, len(frame))
	for id := range frame {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
