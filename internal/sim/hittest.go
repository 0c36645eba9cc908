package sim

import "math"

// RayCircle intersects a ray (origin, unit-ish dir, max range) with a
// circle. It returns the distance along the ray of the first intersection
// and whether the circle was hit within range. A ray starting inside the
// circle hits at distance 0.
func RayCircle(origin, dir Vec2, maxRange float64, center Vec2, radius float64) (float64, bool) {
	if radius <= 0 || maxRange <= 0 {
		return 0, false
	}
	dl := dir.Len()
	if dl == 0 {
		return 0, false
	}
	d := dir.Scale(1 / dl)

	oc := origin.Sub(center)
	if oc.Len() <= radius {
		return 0, true
	}

	// Solve |oc + t*d|^2 = r^2 for the smallest non-negative t.
	b := oc.X*d.X + oc.Y*d.Y
	c := oc.X*oc.X + oc.Y*oc.Y - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	t := -b - math.Sqrt(disc)
	if t < 0 || t > maxRange {
		return 0, false
	}
	return t, true
}
