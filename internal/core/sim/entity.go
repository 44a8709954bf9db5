package sim

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

// ShapeKind selects the geometry of an entity
type ShapeKind uint8

const (
	ShapePlane ShapeKind = iota
	ShapeSphere
	ShapeCylinder
	ShapeBox
	ShapeCone
	ShapeMesh
)

func (s ShapeKind) String() string {
	switch s {
	case ShapePlane:
		return "plane"
	case ShapeSphere:
		return "sphere"
	case ShapeCylinder:
		return "cylinder"
	case ShapeBox:
		return "box"
	case ShapeCone:
		return "cone"
	case ShapeMesh:
		return "mesh"
	default:
		return "unknown"
	}
}

// DimCount is the number of dimensions a shape is built from:
//
//	plane    normal x, normal y, normal z, constant
//	sphere   radius
//	cylinder radius, height
//	box      x, y, z lengths
//	cone     radius, height
//	mesh     none, geometry comes from the mesh file
func (s ShapeKind) DimCount() int {
	switch s {
	case ShapePlane:
		return 4
	case ShapeSphere:
		return 1
	case ShapeCylinder, ShapeCone:
		return 2
	case ShapeBox:
		return 3
	case ShapeMesh:
		return 0
	default:
		return -1
	}
}

// ParseShape maps a shape name onto a ShapeKind
func ParseShape(name string) (ShapeKind, error) {
	for s := ShapePlane; s <= ShapeMesh; s++ {
		if s.String() == strings.ToLower(name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownShape, name)
}

// PhysicsKind decides how an entity takes part in the simulation
type PhysicsKind uint8

const (
	// NoPhysics entities are only drawn.
	NoPhysics PhysicsKind = iota
	// Dynamic entities are moved by the solver; with zero density they are static.
	Dynamic
	// Kinematic entities are placed externally every tick.
	Kinematic
)

func (k PhysicsKind) String() string {
	switch k {
	case NoPhysics:
		return "no_physics"
	case Dynamic:
		return "dynamic"
	case Kinematic:
		return "kinematic"
	default:
		return "unknown"
	}
}

const (
	DefaultFriction = 0.1
	rollingFriction = 0.001
)

type entityOptions struct {
	pose     geom.Pose
	density  float64
	friction float64
	meshPath string
	id       int
	name     string
	meshes   *MeshLibrary
	mesh     *Mesh
	color    *[3]float64
	logger   log.Log
}

// Option configures NewEntity
type Option func(*entityOptions)

func WithPose(p geom.Pose) Option        { return func(o *entityOptions) { o.pose = p } }
func WithDensity(d float64) Option       { return func(o *entityOptions) { o.density = d } }
func WithFriction(f float64) Option      { return func(o *entityOptions) { o.friction = f } }
func WithMeshPath(path string) Option    { return func(o *entityOptions) { o.meshPath = path } }
func WithID(id int) Option               { return func(o *entityOptions) { o.id = id } }
func WithName(name string) Option        { return func(o *entityOptions) { o.name = name } }
func WithMeshes(lib *MeshLibrary) Option { return func(o *entityOptions) { o.meshes = lib } }
func WithMesh(m *Mesh) Option            { return func(o *entityOptions) { o.mesh = m } }
func WithLogger(logger log.Log) Option   { return func(o *entityOptions) { o.logger = logger } }
func WithColor(r, g, b float64) Option   { return func(o *entityOptions) { o.color = &[3]float64{r, g, b} } }

// Entity is one simulated object: a collision shape, an optional rigid body, a
// renderable actor and, when it has physics, the PoseBridge linking the two.
// Once the body is added to a world the world owns it.
type Entity struct {
	id       int
	name     string
	shape    ShapeKind
	kind     PhysicsKind
	dims     []float64
	density  float64
	friction float64
	meshPath string

	volume float64
	mass   float64

	collision physics.Shape
	body      *physics.Body
	bridge    *PoseBridge
	actor     *render.Actor
	pose      geom.Pose
}

// NewEntity builds an entity in real-world units. It fails with ErrInvalidDimensions
// when dims does not match the shape and with ErrMeshNotFound when a mesh with
// physics has no file.
func NewEntity(shape ShapeKind, kind PhysicsKind, dims []float64, opts ...Option) (*Entity, error) {
	o := entityOptions{pose: geom.Identity(), friction: DefaultFriction}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Provide()
	}

	want := shape.DimCount()
	if want < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShape, shape)
	}
	if len(dims) != want {
		return nil, fmt.Errorf("%w: %s needs %d values, got %d", ErrInvalidDimensions, shape, want, len(dims))
	}

	e := &Entity{
		id:       o.id,
		name:     o.name,
		shape:    shape,
		kind:     kind,
		dims:     append([]float64(nil), dims...),
		density:  o.density,
		friction: o.friction,
		meshPath: o.meshPath,
		pose:     o.pose,
	}
	if e.name == "" {
		e.name = fmt.Sprintf("%s-%d", shape, o.id)
	}

	if err := e.buildShape(o); err != nil {
		return nil, err
	}

	e.actor = render.NewActor(e.name, render.Geometry{Shape: shape.String(), Dims: e.dims, MeshPath: e.meshPath})
	if o.color != nil {
		e.actor.SetColor(o.color[0], o.color[1], o.color[2])
	}

	e.mass = e.volume * e.density
	if kind == Kinematic {
		e.mass = 0
	}

	if kind == NoPhysics {
		e.actor.SetPose(e.pose)
		return e, nil
	}

	e.bridge = NewPoseBridge(e.pose, e.actor)
	cfg := physics.BodyConfig{
		Name:        e.name,
		Mass:        e.mass,
		Kinematic:   kind == Kinematic,
		Friction:    e.friction,
		MotionState: e.bridge,
	}
	switch shape {
	case ShapeBox, ShapeCone, ShapeCylinder, ShapeSphere:
		cfg.RollingFriction = rollingFriction
		cfg.SpinningFriction = rollingFriction
	}
	e.body = physics.NewBody(e.collision, cfg)

	o.logger.Debug("Created sim entity",
		log.String("name", e.name),
		log.Stringer("shape", shape),
		log.Stringer("physics", kind),
		log.Float64("mass", e.mass),
		log.Float64("volume", e.volume),
		log.Float64("friction", e.friction),
	)
	return e, nil
}

// buildShape fills in the collision shape and the volume. Lengths reaching the
// physics world are scaled by DimScale; the volume stays in real units.
func (e *Entity) buildShape(o entityOptions) error {
	d := e.dims
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s has non-finite dimension", ErrInvalidDimensions, e.shape)
		}
	}

	switch e.shape {
	case ShapePlane:
		e.collision = physics.NewPlane(mgl64.Vec3{d[0], d[1], d[2]}, DimScale*d[3])
	case ShapeSphere:
		e.collision = &physics.Sphere{Radius: DimScale * d[0]}
		e.volume = 4.0 / 3.0 * math.Pi * math.Pow(d[0], 3)
	case ShapeCylinder:
		e.collision = &physics.Cylinder{Radius: DimScale * d[0], HalfHeight: DimScale * d[1] / 2}
		e.volume = math.Pi * d[0] * d[0] * d[1]
	case ShapeBox:
		e.collision = &physics.Box{HalfExtents: mgl64.Vec3{d[0], d[1], d[2]}.Mul(DimScale / 2)}
		e.volume = d[0] * d[1] * d[2]
	case ShapeCone:
		e.collision = &physics.Cone{Radius: DimScale * d[0], Height: DimScale * d[1]}
		e.volume = math.Pi * d[0] * d[0] * d[1] / 3
	case ShapeMesh:
		return e.buildMesh(o)
	}
	return nil
}

func (e *Entity) buildMesh(o entityOptions) error {
	if o.mesh != nil {
		e.volume = o.mesh.Volume
		if e.kind != NoPhysics {
			e.collision = o.mesh.Compound(DimScale)
		}
		return nil
	}

	lib := o.meshes
	if lib == nil {
		lib = NewMeshLibrary(o.logger)
	}

	if e.kind == NoPhysics {
		// drawn only: a missing file leaves the volume at zero
		if m, err := lib.Load(e.meshPath); err == nil {
			e.volume = m.Volume
		} else {
			o.logger.Warn("Failed to read mesh of visual entity", log.String("path", e.meshPath), log.Error(err))
		}
		return nil
	}

	if _, err := os.Stat(e.meshPath); err != nil {
		if errors.Is(err, os.ErrNotExist) || e.meshPath == "" {
			return fmt.Errorf("%w: %q", ErrMeshNotFound, e.meshPath)
		}
		return fmt.Errorf("stat mesh %q: %w", e.meshPath, err)
	}
	m, err := lib.Load(e.meshPath)
	if err != nil {
		return err
	}
	e.volume = m.Volume
	e.collision = m.Compound(DimScale)
	return nil
}

func (e *Entity) ID() int                       { return e.id }
func (e *Entity) Name() string                  { return e.name }
func (e *Entity) Shape() ShapeKind              { return e.shape }
func (e *Entity) Physics() PhysicsKind          { return e.kind }
func (e *Entity) Dims() []float64               { return append([]float64(nil), e.dims...) }
func (e *Entity) Density() float64              { return e.density }
func (e *Entity) Friction() float64             { return e.friction }
func (e *Entity) Volume() float64               { return e.volume }
func (e *Entity) Mass() float64                 { return e.mass }
func (e *Entity) Body() *physics.Body           { return e.body }
func (e *Entity) CollisionShape() physics.Shape { return e.collision }
func (e *Entity) Actor() *render.Actor          { return e.actor }
func (e *Entity) Bridge() *PoseBridge           { return e.bridge }

// IsStatic reports a dynamic entity whose mass is zero
func (e *Entity) IsStatic() bool {
	return e.kind == Dynamic && e.mass == 0
}

// SetKinematicPose places a kinematic entity from the 7-scalar form. It does nothing
// for other physics kinds.
func (e *Entity) SetKinematicPose(pose [geom.ArrayLen]float64) {
	e.SetKinematicFrame(geom.FromArray(pose))
}

// SetKinematicFrame is SetKinematicPose for a Pose
func (e *Entity) SetKinematicFrame(p geom.Pose) {
	if e.kind != Kinematic {
		return
	}
	e.bridge.SetKinematicPose(p.Scaled(DimScale))
}

// Pose returns the current real-world pose. Entities without physics keep the pose
// they were built or last teleported with.
func (e *Entity) Pose() geom.Pose {
	if e.bridge == nil {
		return e.pose
	}
	return e.bridge.Pose()
}

// Teleport moves the entity regardless of its physics kind and stops a dynamic body.
func (e *Entity) Teleport(p geom.Pose) {
	switch {
	case e.kind == NoPhysics:
		e.pose = p
		e.actor.SetPose(p)
	case e.kind == Kinematic:
		e.SetKinematicFrame(p)
	default:
		e.body.Teleport(p.Scaled(DimScale))
	}
}
