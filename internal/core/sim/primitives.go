package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Torus builds a closed ring mesh around the local z axis. The convex decomposition has
// one hull per segment of the ring.
func Torus(radius, tube float64, segments, sides int) *Mesh {
	if segments < 3 {
		segments = 3
	}
	if sides < 3 {
		sides = 3
	}

	m := &Mesh{Vertices: make([]mgl64.Vec3, 0, segments*sides)}
	for i := 0; i < segments; i++ {
		u := 2 * math.Pi * float64(i) / float64(segments)
		for j := 0; j < sides; j++ {
			v := 2 * math.Pi * float64(j) / float64(sides)
			r := radius + tube*math.Cos(v)
			m.Vertices = append(m.Vertices, mgl64.Vec3{r * math.Cos(u), r * math.Sin(u), tube * math.Sin(v)})
		}
	}

	idx := func(i, j int) int { return (i%segments)*sides + j%sides }
	for i := 0; i < segments; i++ {
		hull := make([]mgl64.Vec3, 0, 2*sides)
		for j := 0; j < sides; j++ {
			a, b, c, d := idx(i, j), idx(i+1, j), idx(i+1, j+1), idx(i, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, c}, [3]int{a, c, d})
			hull = append(hull, m.Vertices[a], m.Vertices[b])
		}
		m.Hulls = append(m.Hulls, hull)
	}
	m.Volume = SurfaceVolume(m.Vertices, m.Faces)
	return m
}
