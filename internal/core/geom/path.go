package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Polyline is an ordered list of points describing a path in task space.
type Polyline []mgl64.Vec3

// PathPoint is the projection of a query point onto a Polyline.
type PathPoint struct {
	Point    mgl64.Vec3
	Tangent  mgl64.Vec3
	Segment  int
	Distance float64
	// Progress is the arc length from the first point, normalized to [0,1].
	Progress float64
}

// Length returns the total arc length
func (l Polyline) Length() float64 {
	total := 0.0
	for i := 1; i < len(l); i++ {
		total += l[i].Sub(l[i-1]).Len()
	}
	return total
}

// Closest projects q onto the polyline. An empty or single-point line returns ok=false.
func (l Polyline) Closest(q mgl64.Vec3) (PathPoint, bool) {
	if len(l) < 2 {
		return PathPoint{}, false
	}

	best := PathPoint{Distance: math.Inf(1)}
	total := l.Length()
	walked := 0.0

	for i := 1; i < len(l); i++ {
		a, b := l[i-1], l[i]
		ab := b.Sub(a)
		segLen := ab.Len()
		if segLen < 1e-12 {
			continue
		}
		t := q.Sub(a).Dot(ab) / (segLen * segLen)
		t = math.Max(0, math.Min(1, t))
		p := a.Add(ab.Mul(t))
		if d := q.Sub(p).Len(); d < best.Distance {
			best = PathPoint{
				Point:    p,
				Tangent:  ab.Mul(1 / segLen),
				Segment:  i - 1,
				Distance: d,
			}
			if total > 0 {
				best.Progress = (walked + t*segLen) / total
			}
		}
		walked += segLen
	}

	return best, !math.IsInf(best.Distance, 1)
}

// AlignZ returns the rotation closest to current whose local z-axis points along dir.
func AlignZ(current mgl64.Quat, dir mgl64.Vec3) mgl64.Quat {
	if dir.LenSqr() < 1e-18 {
		return current
	}
	z := current.Rotate(mgl64.Vec3{0, 0, 1})
	delta := mgl64.QuatBetweenVectors(z, dir.Normalize())
	return delta.Mul(current).Normalize()
}
