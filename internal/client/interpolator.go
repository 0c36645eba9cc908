package client

import (
	"math"

	"github.com/tanema/gween/ease"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

// RenderState is what the renderer needs per entity. Velocity is a
// simulation detail; it never reaches the screen.
type RenderState struct {
	Pos sim.Vec2
	Yaw float64
}

// Frame is one authoritative snapshot reduced to render terms.
type Frame struct {
	Tick     uint64
	Entities map[string]RenderState
}

// Interpolator renders remote entities a fixed number of ticks behind
// the newest snapshot, blending between the two frames that bracket the
// render tick. It never extrapolates: when the buffer runs dry it holds
// the closest frame it has and waits for the stream to catch up.
type Interpolator struct {
	delay  int
	easeFn ease.TweenFunc

	frames []Frame
}

func NewInterpolator(delayTicks int) *Interpolator {
	if delayTicks < 0 {
		delayTicks = 0
	}
	return &Interpolator{delay: delayTicks, easeFn: ease.Linear}
}

// SetEasing swaps the blend curve. The default linear curve is right
// for position; something softer can look better on spectator cameras.
func (ip *Interpolator) SetEasing(fn ease.TweenFunc) {
	if fn != nil {
		ip.easeFn = fn
	}
}

// Push files one snapshot frame. Frames at or before the newest one are
// dropped; the websocket delivers in order, so reordering only happens
// when a transport is being deliberately lossy in tests.
func (ip *Interpolator) Push(f Frame) {
	if len(ip.frames) > 0 && f.Tick <= ip.frames[len(ip.frames)-1].Tick {
		return
	}
	ip.frames = append(ip.frames, f)
	keep := ip.delay + 2
	if keep < 2 {
		keep = 2
	}
	if len(ip.frames) > keep {
		ip.frames = ip.frames[len(ip.frames)-keep:]
	}
}

// RenderTick reports the tick currently on screen: the newest buffered
// tick minus the configured delay.
func (ip *Interpolator) RenderTick() (uint64, bool) {
	if len(ip.frames) == 0 {
		return 0, false
	}
	newest := ip.frames[len(ip.frames)-1].Tick
	if newest < uint64(ip.delay) {
		return 0, true
	}
	return newest - uint64(ip.delay), true
}

// Sample blends the frames bracketing the render tick. alpha is the
// caller's progress through the current render tick in [0,1]; it is
// clamped, never extrapolated. Entities present only in the newer frame
// snap into place; entities that vanished are gone immediately.
func (ip *Interpolator) Sample(alpha float64) (map[string]RenderState, bool) {
	rt, ok := ip.RenderTick()
	if !ok {
		return nil, false
	}
	from, okFrom := ip.frameAt(rt)
	to, okTo := ip.frameAt(rt + 1)
	if !okFrom || !okTo {
		hold := to
		if !okTo {
			if !okFrom {
				hold = ip.frames[len(ip.frames)-1]
			} else {
				hold = from
			}
		}
		return copyStates(hold.Entities), true
	}

	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	t := float64(ip.easeFn(float32(alpha), 0, 1, 1))

	out := make(map[string]RenderState, len(to.Entities))
	for id, b := range to.Entities {
		a, ok := from.Entities[id]
		if !ok {
			out[id] = b
			continue
		}
		out[id] = RenderState{
			Pos: sim.Vec2{
				X: a.Pos.X + (b.Pos.X-a.Pos.X)*t,
				Y: a.Pos.Y + (b.Pos.Y-a.Pos.Y)*t,
			},
			Yaw: lerpAngle(a.Yaw, b.Yaw, t),
		}
	}
	return out, true
}

func (ip *Interpolator) frameAt(tick uint64) (Frame, bool) {
	for i := len(ip.frames) - 1; i >= 0; i-- {
		if ip.frames[i].Tick == tick {
			return ip.frames[i], true
		}
	}
	return Frame{}, false
}

func copyStates(src map[string]RenderState) map[string]RenderState {
	out := make(map[string]RenderState, len(src))
	for id, s := range src {
		out[id] = s
	}
	return out
}

// lerpAngle blends along the shorter arc so a yaw crossing the +-pi
// seam does not spin the long way round.
func lerpAngle(a, b, t float64) float64 {
	d := math.Mod(b-a+3*math.Pi, 2*math.Pi) - math.Pi
	return a + d*t
}
