package sim

import "math"

type Vec2 struct {
	X float64
	Y float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Len() float64         { return math.Sqrt(v.X*v.X + v.Y*v.Y) }

// Dist is the euclidean distance between two points.
func Dist(a, b Vec2) float64 { return a.Sub(b).Len() }

// EntityState is the full kinematic state of one entity. LastInput is the
// sequence number of the newest command folded into this state; a held or
// idle step re-applies an old command and therefore leaves it unchanged.
type EntityState struct {
	Pos       Vec2
	Vel       Vec2
	Yaw       float64
	LastInput uint32
}
