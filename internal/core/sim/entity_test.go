package sim

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

func TestNewEntity_Dimensions(t *testing.T) {
	valid := map[ShapeKind][]float64{
		ShapePlane:    {0, 0, 1, 0},
		ShapeSphere:   {0.01},
		ShapeCylinder: {0.01, 0.02},
		ShapeBox:      {0.01, 0.02, 0.03},
		ShapeCone:     {0.01, 0.02},
	}
	lengths := []int{0, 1, 2, 3, 4, 5}

	for shape, dims := range valid {
		for _, kind := range []PhysicsKind{NoPhysics, Dynamic, Kinematic} {
			t.Run(shape.String()+"/"+kind.String(), func(t *testing.T) {
				e, err := NewEntity(shape, kind, dims, WithLogger(log.NewNop()))
				require.NoError(t, err)
				assert.Equal(t, shape, e.Shape())
				assert.Equal(t, kind != NoPhysics, e.Body() != nil, "body exists iff the entity has physics")
				assert.Equal(t, kind != NoPhysics, e.Bridge() != nil, "bridge exists iff the entity has physics")

				for _, n := range lengths {
					if n == len(dims) {
						continue
					}
					_, err := NewEntity(shape, kind, make([]float64, n), WithLogger(log.NewNop()))
					assert.ErrorIs(t, err, ErrInvalidDimensions, "%d dims", n)
				}
			})
		}
	}

	_, err := NewEntity(ShapeMesh, Dynamic, []float64{1}, WithLogger(log.NewNop()))
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = NewEntity(ShapeKind(42), Dynamic, nil)
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func TestNewEntity_BoxMass(t *testing.T) {
	e, err := NewEntity(ShapeBox, Dynamic, []float64{0.02, 0.02, 0.02},
		WithDensity(1000), WithPose(geom.Identity()), WithLogger(log.NewNop()))
	require.NoError(t, err)

	assert.InEpsilon(t, 0.008, e.Mass(), 0.01)
	assert.InEpsilon(t, 0.008, e.Body().Mass(), 0.01)
	assert.True(t, e.Body().IsDynamic())
	assert.False(t, e.IsStatic())
	assert.Equal(t, 0.001, e.Body().RollingFriction())
	assert.Equal(t, DefaultFriction, e.Body().Friction())
}

func TestNewEntity_Volumes(t *testing.T) {
	tests := []struct {
		shape ShapeKind
		dims  []float64
		want  float64
	}{
		{ShapeSphere, []float64{0.5}, 4.0 / 3.0 * math.Pi * 0.125},
		{ShapeCylinder, []float64{0.5, 2}, math.Pi * 0.25 * 2},
		{ShapeBox, []float64{1, 2, 3}, 6},
		{ShapeCone, []float64{0.5, 3}, math.Pi * 0.25},
		{ShapePlane, []float64{0, 0, 1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.shape.String(), func(t *testing.T) {
			e, err := NewEntity(tt.shape, NoPhysics, tt.dims, WithLogger(log.NewNop()))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, e.Volume(), 1e-12)
		})
	}
}

func TestNewEntity_MassRules(t *testing.T) {
	kin, err := NewEntity(ShapeSphere, Kinematic, []float64{0.01}, WithDensity(5000), WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.Zero(t, kin.Mass())
	assert.True(t, kin.Body().IsKinematic())

	static, err := NewEntity(ShapeBox, Dynamic, []float64{0.1, 0.1, 0.01}, WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.True(t, static.IsStatic())
	assert.True(t, static.Body().IsStatic())

	plane, err := NewEntity(ShapePlane, Dynamic, []float64{0, 0, 1, 0}, WithDensity(1000), WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.True(t, plane.Body().IsStatic())
	assert.Zero(t, plane.Body().RollingFriction())
}

func TestEntity_KinematicPoseRoundTrip(t *testing.T) {
	e, err := NewEntity(ShapeBox, Kinematic, []float64{0.01, 0.01, 0.01}, WithLogger(log.NewNop()))
	require.NoError(t, err)

	rot := mgl64.QuatRotate(0.7, mgl64.Vec3{1, 2, 3}.Normalize())
	want := geom.NewPose(mgl64.Vec3{0.012, -0.034, 0.056}, rot)
	e.SetKinematicPose(want.Array())

	assert.True(t, e.Pose().ApproxEqual(want, 1e-12))
	assert.True(t, e.Bridge().ReadWorldTransform().ApproxEqual(want.Scaled(DimScale), 1e-12))
	assert.True(t, geom.FromMat4(e.Actor().Matrix()).ApproxEqual(want, 1e-9))
}

func TestEntity_SetKinematicPoseIgnoredForOtherKinds(t *testing.T) {
	start := geom.Translation(0.1, 0, 0)
	for _, kind := range []PhysicsKind{NoPhysics, Dynamic} {
		e, err := NewEntity(ShapeSphere, kind, []float64{0.01}, WithPose(start), WithDensity(1000), WithLogger(log.NewNop()))
		require.NoError(t, err)
		e.SetKinematicPose(geom.Translation(1, 1, 1).Array())
		assert.True(t, e.Pose().ApproxEqual(start, 1e-12), kind.String())
	}
}

func TestEntity_Teleport(t *testing.T) {
	e, err := NewEntity(ShapeSphere, Dynamic, []float64{0.01}, WithDensity(1000), WithLogger(log.NewNop()))
	require.NoError(t, err)
	e.Body().SetLinearVelocity(mgl64.Vec3{1, 0, 0})

	target := geom.Translation(0.05, 0.02, 0.01)
	e.Teleport(target)
	assert.True(t, e.Pose().ApproxEqual(target, 1e-12))
	assert.Equal(t, mgl64.Vec3{}, e.Body().LinearVelocity())
}

func TestEntity_DynamicBoxFallsOntoPlane(t *testing.T) {
	world := physics.NewWorld(physics.WorldConfig{Gravity: mgl64.Vec3{0, 0, -9.81 * DimScale}})
	ground, err := NewEntity(ShapePlane, Dynamic, []float64{0, 0, 1, 0}, WithLogger(log.NewNop()))
	require.NoError(t, err)
	box, err := NewEntity(ShapeBox, Dynamic, []float64{0.02, 0.02, 0.02},
		WithDensity(1000), WithPose(geom.Translation(0, 0, 0.05)), WithLogger(log.NewNop()))
	require.NoError(t, err)

	_, err = world.AddRigidBody(ground.Body())
	require.NoError(t, err)
	_, err = world.AddRigidBody(box.Body())
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		world.Step(1.0 / 500)
	}
	assert.InDelta(t, 0.01, box.Pose().Pos[2], 0.001)
	assert.InDelta(t, 0.01, geom.FromMat4(box.Actor().Matrix()).Pos[2], 0.001)
}

func TestNewEntity_Mesh(t *testing.T) {
	dir := t.TempDir()
	path := writeCube(t, dir, "block.obj", 0.02)
	lib := NewMeshLibrary(log.NewNop())

	e, err := NewEntity(ShapeMesh, Dynamic, nil, WithMeshPath(path), WithMeshes(lib), WithDensity(1000), WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.InEpsilon(t, 0.008, e.Mass(), 1e-9)
	require.IsType(t, &physics.Compound{}, e.CollisionShape())
	assert.FileExists(t, DecompositionPath(path))

	_, err = NewEntity(ShapeMesh, Kinematic, nil, WithMeshPath(filepath.Join(dir, "missing.obj")), WithLogger(log.NewNop()))
	assert.ErrorIs(t, err, ErrMeshNotFound)

	visual, err := NewEntity(ShapeMesh, NoPhysics, nil, WithMeshPath(filepath.Join(dir, "missing.obj")), WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.Zero(t, visual.Volume())
	assert.Nil(t, visual.Body())
}

func TestParseShape(t *testing.T) {
	s, err := ParseShape("Cylinder")
	require.NoError(t, err)
	assert.Equal(t, ShapeCylinder, s)

	_, err = ParseShape("torus")
	assert.ErrorIs(t, err, ErrUnknownShape)
}
