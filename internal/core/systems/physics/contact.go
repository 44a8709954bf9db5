package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
)

const (
	gjkMaxIterations = 64
	epaMaxIterations = 64
	epaTolerance     = 1e-4
)

// Contact describes one contact between two bodies. Normal points from A to B.
// Distance is negative while the shapes penetrate.
type Contact struct {
	A, B     *Body
	Normal   mgl64.Vec3
	Distance float64
}

// Depth is the penetration depth, zero when separated
func (c Contact) Depth() float64 {
	return math.Max(0, -c.Distance)
}

// proxy is one convex piece of a body placed in world space.
type proxy struct {
	pose   geom.Pose
	inv    mgl64.Quat
	shape  Convex
	plane  *Plane
	radius float64
	margin float64
}

func (p proxy) support(dir mgl64.Vec3) mgl64.Vec3 {
	out := p.pose.Apply(p.shape.Support(p.inv.Rotate(dir)))
	if p.margin > 0 && dir.LenSqr() > 1e-18 {
		out = out.Add(dir.Normalize().Mul(p.margin))
	}
	return out
}

func (p proxy) center() mgl64.Vec3 {
	return p.pose.Pos
}

// proxies expands a body into its world-space convex pieces
func proxies(b *Body) []proxy {
	t := b.transform
	switch s := b.shape.(type) {
	case *Plane:
		n := t.ApplyVector(s.Normal)
		c := s.Constant + n.Dot(t.Pos)
		return []proxy{{pose: t, plane: &Plane{Normal: n, Constant: c}}}
	case *Compound:
		out := make([]proxy, 0, len(s.Children))
		for _, child := range s.Children {
			pose := t.Mul(child.Local)
			out = append(out, proxy{pose: pose, inv: pose.Rot.Inverse(), shape: child.Shape, radius: boundingRadius(child.Shape)})
		}
		return out
	case Convex:
		return []proxy{{pose: t, inv: t.Rot.Inverse(), shape: s, radius: boundingRadius(s)}}
	default:
		return nil
	}
}

// collide tests two pieces. A contact is reported when the distance is at most margin.
func collide(a, b proxy, margin float64) (mgl64.Vec3, float64, bool) {
	switch {
	case a.plane != nil && b.plane != nil:
		return mgl64.Vec3{}, 0, false
	case a.plane != nil:
		return collidePlane(a.plane, b, margin)
	case b.plane != nil:
		n, d, ok := collidePlane(b.plane, a, margin)
		return n.Mul(-1), d, ok
	}

	if b.center().Sub(a.center()).Len() > a.radius+b.radius+margin {
		return mgl64.Vec3{}, 0, false
	}

	a.margin = margin
	support := func(dir mgl64.Vec3) mgl64.Vec3 {
		return a.support(dir).Sub(b.support(dir.Mul(-1)))
	}

	simplex, hit := gjk(support, b.center().Sub(a.center()))
	if !hit {
		return mgl64.Vec3{}, 0, false
	}

	normal, depth, ok := epa(simplex, support)
	if !ok {
		normal = b.center().Sub(a.center())
		if normal.LenSqr() < 1e-18 {
			normal = mgl64.Vec3{0, 0, 1}
		}
		normal = normal.Normalize()
		depth = margin
	}
	return normal, margin - depth, true
}

func collidePlane(plane *Plane, b proxy, margin float64) (mgl64.Vec3, float64, bool) {
	deepest := b.support(plane.Normal.Mul(-1))
	dist := plane.Normal.Dot(deepest) - plane.Constant
	if dist > margin {
		return mgl64.Vec3{}, 0, false
	}
	return plane.Normal, dist, true
}

// boundingRadius bounds a convex shape by a sphere around its local origin
func boundingRadius(s Convex) float64 {
	switch t := s.(type) {
	case *Sphere:
		return t.Radius
	case *Box:
		return t.HalfExtents.Len()
	case *Cylinder:
		return math.Hypot(t.Radius, t.HalfHeight)
	case *Cone:
		return math.Hypot(t.Radius, t.Height/2)
	case *Hull:
		if t.radius > 0 {
			return t.radius
		}
		return hullRadius(t.Points)
	default:
		var ext mgl64.Vec3
		for i, axis := range axes {
			ext[i] = math.Max(math.Abs(s.Support(axis)[i]), math.Abs(s.Support(axis.Mul(-1))[i]))
		}
		return ext.Len()
	}
}

// gjk reports whether the origin lies inside the Minkowski difference described by support.
func gjk(support func(mgl64.Vec3) mgl64.Vec3, initial mgl64.Vec3) ([]mgl64.Vec3, bool) {
	if initial.LenSqr() < 1e-18 {
		initial = mgl64.Vec3{1, 0, 0}
	}
	s := support(initial)
	simplex := []mgl64.Vec3{s}
	dir := s.Mul(-1)

	for i := 0; i < gjkMaxIterations; i++ {
		if dir.LenSqr() < 1e-18 {
			return simplex, true
		}
		p := support(dir)
		if p.Dot(dir) < 0 {
			return nil, false
		}
		simplex = append([]mgl64.Vec3{p}, simplex...)
		var contains bool
		simplex, dir, contains = nextSimplex(simplex)
		if contains {
			return simplex, true
		}
	}
	return nil, false
}

// nextSimplex keeps the feature of the simplex closest to the origin. simplex[0] is the newest point.
func nextSimplex(s []mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3, bool) {
	switch len(s) {
	case 2:
		return lineCase(s[0], s[1])
	case 3:
		return triangleCase(s[0], s[1], s[2])
	default:
		return tetraCase(s[0], s[1], s[2], s[3])
	}
}

func lineCase(a, b mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3, bool) {
	ab := b.Sub(a)
	ao := a.Mul(-1)
	if ab.Dot(ao) > 0 {
		dir := ab.Cross(ao).Cross(ab)
		if dir.LenSqr() < 1e-18 {
			return []mgl64.Vec3{a, b}, dir, true
		}
		return []mgl64.Vec3{a, b}, dir, false
	}
	return []mgl64.Vec3{a}, ao, false
}

func triangleCase(a, b, c mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3, bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ao := a.Mul(-1)
	abc := ab.Cross(ac)

	if abc.Cross(ac).Dot(ao) > 0 {
		if ac.Dot(ao) > 0 {
			return []mgl64.Vec3{a, c}, ac.Cross(ao).Cross(ac), false
		}
		return lineCase(a, b)
	}
	if ab.Cross(abc).Dot(ao) > 0 {
		return lineCase(a, b)
	}

	d := abc.Dot(ao)
	switch {
	case math.Abs(d) < 1e-14:
		return []mgl64.Vec3{a, b, c}, mgl64.Vec3{}, true
	case d > 0:
		return []mgl64.Vec3{a, b, c}, abc, false
	default:
		return []mgl64.Vec3{a, c, b}, abc.Mul(-1), false
	}
}

func tetraCase(a, b, c, d mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3, bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ad := d.Sub(a)
	ao := a.Mul(-1)

	if ab.Cross(ac).Dot(ao) > 0 {
		return triangleCase(a, b, c)
	}
	if ac.Cross(ad).Dot(ao) > 0 {
		return triangleCase(a, c, d)
	}
	if ad.Cross(ab).Dot(ao) > 0 {
		return triangleCase(a, d, b)
	}
	return []mgl64.Vec3{a, b, c, d}, mgl64.Vec3{}, true
}

type epaFace struct {
	a, b, c  int
	normal   mgl64.Vec3
	distance float64
}

type epaEdge struct {
	a, b int
}

// epa expands the GJK simplex and returns the penetration normal and depth.
func epa(simplex []mgl64.Vec3, support func(mgl64.Vec3) mgl64.Vec3) (mgl64.Vec3, float64, bool) {
	vertices, ok := completeSimplex(append([]mgl64.Vec3(nil), simplex...), support)
	if !ok {
		return mgl64.Vec3{}, 0, false
	}

	interior := vertices[0].Add(vertices[1]).Add(vertices[2]).Add(vertices[3]).Mul(0.25)
	faces := make([]epaFace, 0, 16)
	for _, idx := range [][3]int{{0, 1, 2}, {0, 3, 1}, {0, 2, 3}, {1, 3, 2}} {
		if f, ok := makeFace(vertices, interior, idx[0], idx[1], idx[2]); ok {
			faces = append(faces, f)
		}
	}

	for i := 0; i < epaMaxIterations && len(faces) > 0; i++ {
		closest := 0
		for j := range faces {
			if faces[j].distance < faces[closest].distance {
				closest = j
			}
		}
		face := faces[closest]

		p := support(face.normal)
		if p.Dot(face.normal)-face.distance < epaTolerance {
			return face.normal, face.distance, true
		}

		vertices = append(vertices, p)
		pi := len(vertices) - 1

		var horizon []epaEdge
		kept := faces[:0]
		for _, f := range faces {
			if f.normal.Dot(p.Sub(vertices[f.a])) > 0 {
				horizon = toggleEdge(horizon, epaEdge{f.a, f.b})
				horizon = toggleEdge(horizon, epaEdge{f.b, f.c})
				horizon = toggleEdge(horizon, epaEdge{f.c, f.a})
				continue
			}
			kept = append(kept, f)
		}
		faces = kept
		for _, e := range horizon {
			if f, ok := makeFace(vertices, interior, e.a, e.b, pi); ok {
				faces = append(faces, f)
			}
		}
	}

	if len(faces) == 0 {
		return mgl64.Vec3{}, 0, false
	}
	closest := faces[0]
	for _, f := range faces[1:] {
		if f.distance < closest.distance {
			closest = f
		}
	}
	return closest.normal, closest.distance, true
}

// completeSimplex grows a point, segment or triangle that touches the origin into a
// non-degenerate tetrahedron of the Minkowski difference.
func completeSimplex(s []mgl64.Vec3, support func(mgl64.Vec3) mgl64.Vec3) ([]mgl64.Vec3, bool) {
	const eps = 1e-10

	if len(s) == 1 {
		for _, axis := range axes {
			for _, d := range [2]mgl64.Vec3{axis, axis.Mul(-1)} {
				if p := support(d); p.Sub(s[0]).LenSqr() > eps {
					s = append(s, p)
					break
				}
			}
			if len(s) == 2 {
				break
			}
		}
	}

	if len(s) == 2 {
		line := s[1].Sub(s[0]).Normalize()
		axis := axes[0]
		for _, a := range axes[1:] {
			if math.Abs(a.Dot(line)) < math.Abs(axis.Dot(line)) {
				axis = a
			}
		}
		perp := line.Cross(axis).Normalize()
		for k := 0; k < 6 && len(s) == 2; k++ {
			d := mgl64.QuatRotate(float64(k)*math.Pi/3, line).Rotate(perp)
			p := support(d)
			off := p.Sub(s[0])
			if off.Sub(line.Mul(off.Dot(line))).LenSqr() > eps {
				s = append(s, p)
			}
		}
	}

	if len(s) == 3 {
		n := s[1].Sub(s[0]).Cross(s[2].Sub(s[0]))
		if n.LenSqr() < eps*eps {
			return nil, false
		}
		n = n.Normalize()
		p := support(n)
		if math.Abs(n.Dot(p.Sub(s[0]))) < eps {
			p = support(n.Mul(-1))
		}
		s = append(s, p)
	}

	if len(s) < 4 {
		return nil, false
	}
	volume := s[1].Sub(s[0]).Cross(s[2].Sub(s[0])).Dot(s[3].Sub(s[0]))
	if math.Abs(volume) < eps*eps {
		return nil, false
	}
	return s[:4], true
}

// makeFace builds a face with its normal oriented away from the interior point.
func makeFace(v []mgl64.Vec3, interior mgl64.Vec3, a, b, c int) (epaFace, bool) {
	n := v[b].Sub(v[a]).Cross(v[c].Sub(v[a]))
	if n.LenSqr() < 1e-24 {
		return epaFace{}, false
	}
	n = n.Normalize()
	if n.Dot(v[a].Sub(interior)) < 0 {
		n = n.Mul(-1)
		b, c = c, b
	}
	return epaFace{a: a, b: b, c: c, normal: n, distance: math.Max(0, n.Dot(v[a]))}, true
}

// toggleEdge keeps edges shared by exactly one removed face
func toggleEdge(edges []epaEdge, e epaEdge) []epaEdge {
	for i, existing := range edges {
		if existing.a == e.b && existing.b == e.a || existing == e {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return append(edges, e)
}
