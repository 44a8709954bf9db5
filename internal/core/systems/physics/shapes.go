package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
)

// ShapeKind identifies a collision shape
type ShapeKind uint8

const (
	KindPlane ShapeKind = iota
	KindSphere
	KindBox
	KindCylinder
	KindCone
	KindHull
	KindCompound
)

func (k ShapeKind) String() string {
	switch k {
	case KindPlane:
		return "plane"
	case KindSphere:
		return "sphere"
	case KindBox:
		return "box"
	case KindCylinder:
		return "cylinder"
	case KindCone:
		return "cone"
	case KindHull:
		return "hull"
	case KindCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// Shape is a collision shape in body-local coordinates.
type Shape interface {
	Kind() ShapeKind
	// LocalInertia returns the principal moments of inertia for the given mass.
	LocalInertia(mass float64) mgl64.Vec3
}

// Convex shapes expose a support mapping: the farthest local point along dir.
type Convex interface {
	Shape
	Support(dir mgl64.Vec3) mgl64.Vec3
}

// Plane is the infinite static half-space n·x <= Constant.
type Plane struct {
	Normal   mgl64.Vec3
	Constant float64
}

// NewPlane normalizes the normal
func NewPlane(normal mgl64.Vec3, constant float64) *Plane {
	if normal.LenSqr() < 1e-18 {
		normal = mgl64.Vec3{0, 0, 1}
	}
	return &Plane{Normal: normal.Normalize(), Constant: constant}
}

func (p *Plane) Kind() ShapeKind                 { return KindPlane }
func (p *Plane) LocalInertia(float64) mgl64.Vec3 { return mgl64.Vec3{} }

type Sphere struct {
	Radius float64
}

func (s *Sphere) Kind() ShapeKind { return KindSphere }

func (s *Sphere) Support(dir mgl64.Vec3) mgl64.Vec3 {
	if dir.LenSqr() < 1e-18 {
		return mgl64.Vec3{s.Radius, 0, 0}
	}
	return dir.Normalize().Mul(s.Radius)
}

func (s *Sphere) LocalInertia(mass float64) mgl64.Vec3 {
	i := 0.4 * mass * s.Radius * s.Radius
	return mgl64.Vec3{i, i, i}
}

type Box struct {
	HalfExtents mgl64.Vec3
}

func (b *Box) Kind() ShapeKind { return KindBox }

func (b *Box) Support(dir mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		sign(dir[0]) * b.HalfExtents[0],
		sign(dir[1]) * b.HalfExtents[1],
		sign(dir[2]) * b.HalfExtents[2],
	}
}

func (b *Box) LocalInertia(mass float64) mgl64.Vec3 {
	return boxInertia(mass, b.HalfExtents)
}

// Cylinder is aligned with the local y axis.
type Cylinder struct {
	Radius     float64
	HalfHeight float64
}

func (c *Cylinder) Kind() ShapeKind { return KindCylinder }

func (c *Cylinder) Support(dir mgl64.Vec3) mgl64.Vec3 {
	out := mgl64.Vec3{0, sign(dir[1]) * c.HalfHeight, 0}
	radial := math.Hypot(dir[0], dir[2])
	if radial > 1e-12 {
		out[0] = dir[0] / radial * c.Radius
		out[2] = dir[2] / radial * c.Radius
	}
	return out
}

func (c *Cylinder) LocalInertia(mass float64) mgl64.Vec3 {
	r2 := c.Radius * c.Radius
	h := 2 * c.HalfHeight
	side := mass * (3*r2 + h*h) / 12
	return mgl64.Vec3{side, mass * r2 / 2, side}
}

// Cone is aligned with the local y axis, apex at +Height/2.
type Cone struct {
	Radius float64
	Height float64
}

func (c *Cone) Kind() ShapeKind { return KindCone }

func (c *Cone) Support(dir mgl64.Vec3) mgl64.Vec3 {
	half := c.Height / 2
	length := dir.Len()
	if length < 1e-12 {
		return mgl64.Vec3{0, half, 0}
	}
	sinAngle := c.Radius / math.Hypot(c.Radius, c.Height)
	if dir[1]/length > sinAngle {
		return mgl64.Vec3{0, half, 0}
	}
	radial := math.Hypot(dir[0], dir[2])
	if radial < 1e-12 {
		return mgl64.Vec3{0, -half, 0}
	}
	return mgl64.Vec3{dir[0] / radial * c.Radius, -half, dir[2] / radial * c.Radius}
}

func (c *Cone) LocalInertia(mass float64) mgl64.Vec3 {
	r2 := c.Radius * c.Radius
	side := mass * (3*r2/20 + 3*c.Height*c.Height/80)
	return mgl64.Vec3{side, 0.3 * mass * r2, side}
}

// Hull is the convex hull of a point cloud.
type Hull struct {
	Points []mgl64.Vec3
	radius float64
}

// NewHull copies points and precomputes the bounding radius
func NewHull(points []mgl64.Vec3) *Hull {
	pts := append([]mgl64.Vec3(nil), points...)
	return &Hull{Points: pts, radius: hullRadius(pts)}
}

func hullRadius(points []mgl64.Vec3) float64 {
	r := 0.0
	for _, p := range points {
		r = math.Max(r, p.Len())
	}
	return r
}

func (h *Hull) Kind() ShapeKind { return KindHull }

func (h *Hull) Support(dir mgl64.Vec3) mgl64.Vec3 {
	best := mgl64.Vec3{}
	bestDot := math.Inf(-1)
	for _, p := range h.Points {
		if d := p.Dot(dir); d > bestDot {
			best, bestDot = p, d
		}
	}
	return best
}

func (h *Hull) LocalInertia(mass float64) mgl64.Vec3 {
	lo, hi := bounds(h.Points)
	return boxInertia(mass, hi.Sub(lo).Mul(0.5))
}

// CompoundChild places a convex piece inside a Compound
type CompoundChild struct {
	Local geom.Pose
	Shape Convex
}

// Compound is a union of convex pieces, typically a decomposed mesh.
type Compound struct {
	Children []CompoundChild
}

func (c *Compound) Kind() ShapeKind { return KindCompound }

func (c *Compound) LocalInertia(mass float64) mgl64.Vec3 {
	var pts []mgl64.Vec3
	for _, child := range c.Children {
		for _, axis := range axes {
			pts = append(pts,
				child.Local.Apply(child.Shape.Support(child.Local.Rot.Inverse().Rotate(axis))),
				child.Local.Apply(child.Shape.Support(child.Local.Rot.Inverse().Rotate(axis.Mul(-1)))),
			)
		}
	}
	if len(pts) == 0 {
		return mgl64.Vec3{}
	}
	lo, hi := bounds(pts)
	return boxInertia(mass, hi.Sub(lo).Mul(0.5))
}

var axes = [3]mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

func boxInertia(mass float64, half mgl64.Vec3) mgl64.Vec3 {
	lx, ly, lz := 2*half[0], 2*half[1], 2*half[2]
	return mgl64.Vec3{
		mass / 12 * (ly*ly + lz*lz),
		mass / 12 * (lx*lx + lz*lz),
		mass / 12 * (lx*lx + ly*ly),
	}
}

func bounds(points []mgl64.Vec3) (lo, hi mgl64.Vec3) {
	if len(points) == 0 {
		return
	}
	lo, hi = points[0], points[0]
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return lo, hi
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
