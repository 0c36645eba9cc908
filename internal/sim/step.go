package sim

import "math"

// MovementParams are the constants the movement integrator runs with.
// The server hands these to every client at handshake time so prediction
// and authority run the exact same numbers.
type MovementParams struct {
	AccelPerSec     float64 `json:"accel_per_sec"`
	MaxSpeed        float64 `json:"max_speed"`
	FrictionPerSec  float64 `json:"friction_per_sec"`
	ArenaHalfExtent float64 `json:"arena_half_extent"`
	HitRadius       float64 `json:"hit_radius"`
	RayRange        float64 `json:"ray_range"`
}

// Step advances one entity by one fixed tick. It is the single movement
// integrator in the repo: the authoritative world, the client predictor
// and the reconciliation replay all call this exact function.
func Step(prev EntityState, cmd Command, dt float64, p MovementParams) EntityState {
	next := prev

	wish := wishVec(cmd.Buttons)
	if wish.X != 0 || wish.Y != 0 {
		next.Vel.X += wish.X * p.AccelPerSec * dt
		next.Vel.Y += wish.Y * p.AccelPerSec * dt
	} else {
		damp := 1 - p.FrictionPerSec*dt
		if damp < 0 {
			damp = 0
		}
		next.Vel.X *= damp
		next.Vel.Y *= damp
	}

	if sp := next.Vel.Len(); sp > p.MaxSpeed && sp > 0 {
		s := p.MaxSpeed / sp
		next.Vel.X *= s
		next.Vel.Y *= s
	}

	next.Pos.X += next.Vel.X * dt
	next.Pos.Y += next.Vel.Y * dt

	// Arena walls stop motion instead of bouncing.
	if h := p.ArenaHalfExtent; h > 0 {
		if next.Pos.X > h {
			next.Pos.X = h
			next.Vel.X = 0
		} else if next.Pos.X < -h {
			next.Pos.X = -h
			next.Vel.X = 0
		}
		if next.Pos.Y > h {
			next.Pos.Y = h
			next.Vel.Y = 0
		} else if next.Pos.Y < -h {
			next.Pos.Y = -h
			next.Vel.Y = 0
		}
	}

	if cmd.AimX != 0 || cmd.AimY != 0 {
		next.Yaw = math.Atan2(cmd.AimY, cmd.AimX)
	}

	next.LastInput = cmd.Sequence
	return next
}

// wishVec converts held buttons into a unit-length movement direction.
// Diagonals are normalized so they are no faster than cardinals.
func wishVec(b Buttons) Vec2 {
	var v Vec2
	if b.Has(ButtonUp) {
		v.Y++
	}
	if b.Has(ButtonDown) {
		v.Y--
	}
	if b.Has(ButtonLeft) {
		v.X--
	}
	if b.Has(ButtonRight) {
		v.X++
	}
	if v.X != 0 && v.Y != 0 {
		inv := 1 / v.Len()
		v.X *= inv
		v.Y *= inv
	}
	return v
}
