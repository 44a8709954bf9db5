package render

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
)

var actorSeq atomic.Uint64

// Geometry tells a renderer what to draw for an actor. Dims are in real-world units.
type Geometry struct {
	Shape    string    `json:"shape"`
	Dims     []float64 `json:"dims,omitempty"`
	MeshPath string    `json:"mesh,omitempty"`
}

// Actor is a renderable handle. Its display transform is written by the physics side
// and read by the renderer, so every accessor is synchronized.
type Actor struct {
	id       uint64
	name     string
	geometry Geometry

	mu      sync.RWMutex
	matrix  mgl64.Mat4
	color   [3]float64
	opacity float64
	visible bool
}

// ShapeAxes draws the x, y and z axes of the actor frame in red, green and blue.
// Dims holds the axis length.
const ShapeAxes = "axes"

// NewAxes creates a reference frame actor with axes of the given length
func NewAxes(name string, length float64) *Actor {
	return NewActor(name, Geometry{Shape: ShapeAxes, Dims: []float64{length}})
}

// NewActor creates a visible white actor at the identity transform
func NewActor(name string, geometry Geometry) *Actor {
	return &Actor{
		id:       actorSeq.Add(1),
		name:     name,
		geometry: geometry,
		matrix:   mgl64.Ident4(),
		color:    [3]float64{1, 1, 1},
		opacity:  1,
		visible:  true,
	}
}

func (a *Actor) ID() uint64         { return a.id }
func (a *Actor) Name() string       { return a.name }
func (a *Actor) Geometry() Geometry { return a.geometry }

// SetPose replaces the display transform
func (a *Actor) SetPose(p geom.Pose) {
	m := p.Mat4()
	a.mu.Lock()
	a.matrix = m
	a.mu.Unlock()
}

func (a *Actor) SetMatrix(m mgl64.Mat4) {
	a.mu.Lock()
	a.matrix = m
	a.mu.Unlock()
}

func (a *Actor) Matrix() mgl64.Mat4 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.matrix
}

func (a *Actor) SetColor(r, g, b float64) {
	a.mu.Lock()
	a.color = [3]float64{r, g, b}
	a.mu.Unlock()
}

func (a *Actor) Color() [3]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.color
}

func (a *Actor) SetOpacity(o float64) {
	a.mu.Lock()
	a.opacity = o
	a.mu.Unlock()
}

func (a *Actor) SetVisible(v bool) {
	a.mu.Lock()
	a.visible = v
	a.mu.Unlock()
}

func (a *Actor) Visible() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.visible
}

// Snapshot copies the actor state for a renderer or a telemetry client.
func (a *Actor) Snapshot() ActorSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ActorSnapshot{
		ID:       a.id,
		Name:     a.name,
		Geometry: a.geometry,
		Matrix:   [16]float64(a.matrix),
		Color:    a.color,
		Opacity:  a.opacity,
		Visible:  a.visible,
	}
}
