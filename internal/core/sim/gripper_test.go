package sim

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

var testLinkDims = [GripperLinks][3]float64{
	{0.002, 0.002, 0.02},
	{0.002, 0.002, 0.01},
	{0.002, 0.002, 0.012},
	{0.002, 0.002, 0.008},
	{0.002, 0.002, 0.006},
}

func newTestGripper(t *testing.T) *Gripper {
	t.Helper()
	g, err := NewGripper(testLinkDims, WithName("left"), WithLogger(log.NewNop()))
	require.NoError(t, err)
	return g
}

func TestGripper_IdentityLinkPoses(t *testing.T) {
	g := newTestGripper(t)
	g.SetPoseAndJawAngle(geom.Identity(), 0)

	l := testLinkDims
	wantZ := [GripperLinks]float64{
		-l[0][2] / 2,
		l[1][2] / 2,
		l[2][2] / 2,
		l[1][2] + l[3][2]/2,
		l[2][2] + l[4][2]/2,
	}
	for i, link := range g.Links() {
		p := link.Pose()
		assert.InDelta(t, 0, p.Pos[0], 1e-12, "link %d x", i)
		assert.InDelta(t, 0, p.Pos[1], 1e-12, "link %d y", i)
		assert.InDelta(t, wantZ[i], p.Pos[2], 1e-12, "link %d z", i)
		assert.True(t, p.ApproxEqual(geom.NewPose(p.Pos, mgl64.QuatIdent()), 1e-12), "link %d rotation", i)
	}
	assert.Equal(t, "left/link3", g.Links()[3].Name())
}

func TestGripper_SetPoseAndJawAngleIsIdempotent(t *testing.T) {
	g := newTestGripper(t)
	base := geom.NewPose(mgl64.Vec3{0.01, 0.02, 0.03}, mgl64.QuatRotate(0.4, mgl64.Vec3{0, 1, 0}))

	g.SetPoseAndJawAngle(base, 0.3)
	var first [GripperLinks]geom.Pose
	for i, l := range g.Links() {
		first[i] = l.Pose()
	}
	g.SetPoseAndJawAngle(base, 0.3)
	for i, l := range g.Links() {
		assert.Equal(t, first[i], l.Pose(), "link %d", i)
	}
}

func TestGripper_JawsOpenSymmetrically(t *testing.T) {
	g := newTestGripper(t)
	angle := 0.5
	poses := g.LinkPoses(geom.Identity(), angle)

	l := testLinkDims
	assert.InDelta(t, l[1][2]/2*math.Sin(angle), poses[1].Pos[1], 1e-12)
	assert.InDelta(t, -l[2][2]/2*math.Sin(angle), poses[2].Pos[1], 1e-12)
	assert.True(t, poses[1].ApproxEqual(geom.NewPose(poses[1].Pos, mgl64.QuatRotate(-angle, mgl64.Vec3{1, 0, 0})), 1e-12))

	// tips keep the base orientation and start at the end of their jaw
	assert.InDelta(t, l[1][2]*math.Sin(angle), poses[3].Pos[1], 1e-12)
	assert.InDelta(t, l[1][2]*math.Cos(angle)+l[3][2]/2, poses[3].Pos[2], 1e-12)
	assert.InDelta(t, -l[2][2]*math.Sin(angle), poses[4].Pos[1], 1e-12)
	assert.True(t, poses[4].ApproxEqual(geom.NewPose(poses[4].Pos, mgl64.QuatIdent()), 1e-12))
}

func TestGripper_IsGraspingObject(t *testing.T) {
	world := physics.NewWorld(physics.WorldConfig{})
	g := newTestGripper(t)
	require.NoError(t, g.AddToWorld(world))
	assert.Error(t, g.AddToWorld(world), "links can only be added once")

	angle := 0.5
	g.SetPoseAndJawAngle(geom.Identity(), angle)
	world.Step(1.0 / 240)

	tip := g.LinkPoses(geom.Identity(), angle)[3].Pos
	newTarget := func(dims []float64, at mgl64.Vec3) *physics.Body {
		e, err := NewEntity(ShapeBox, Dynamic, dims, WithPose(geom.NewPose(at, mgl64.QuatIdent())), WithLogger(log.NewNop()))
		require.NoError(t, err)
		return e.Body()
	}

	tests := []struct {
		name   string
		target *physics.Body
		want   bool
	}{
		{"between both tips", newTarget([]float64{0.004, 0.02, 0.004}, mgl64.Vec3{0, 0, tip[2]}), true},
		{"touching one tip", newTarget([]float64{0.002, 0.002, 0.002}, tip), false},
		{"far away", newTarget([]float64{0.004, 0.02, 0.004}, mgl64.Vec3{0.05, 0, 0}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.IsGraspingObject(world, tt.target))
		})
	}
}

func TestGripper_LinksAreKinematicBoxes(t *testing.T) {
	g := newTestGripper(t)
	require.Len(t, g.Actors(), GripperLinks)
	for _, l := range g.Links() {
		assert.Equal(t, ShapeBox, l.Shape())
		assert.Equal(t, Kinematic, l.Physics())
		assert.Zero(t, l.Mass())
		assert.Equal(t, 50.0, l.Friction())
		k, d := l.Body().ContactStiffnessAndDamping()
		assert.Equal(t, 2000.0, k)
		assert.Equal(t, 100.0, d)
	}
}

func TestPoseBridge(t *testing.T) {
	e, err := NewEntity(ShapeSphere, Dynamic, []float64{0.01}, WithDensity(1000),
		WithPose(geom.Translation(0.01, 0.02, 0.03)), WithLogger(log.NewNop()))
	require.NoError(t, err)
	b := e.Bridge()

	assert.InDelta(t, 3.0, b.ReadWorldTransform().Pos[2], 1e-12, "physics side is scaled")

	sim := geom.NewPose(mgl64.Vec3{50, 0, -10}, mgl64.QuatRotate(1, mgl64.Vec3{0, 0, 1}))
	b.NotifyFromSimulation(sim)
	assert.True(t, b.Pose().ApproxEqual(sim.Scaled(1/DimScale), 1e-12))
	assert.True(t, geom.FromMat4(b.Actor().Matrix()).ApproxEqual(sim.Scaled(1/DimScale), 1e-9))
	assert.Equal(t, sim, b.ReadWorldTransform())
}
