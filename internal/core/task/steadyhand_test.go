package task

import (
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/atar/internal/core/geom"
)

func newTestSteadyHand(t *testing.T, guidance bool) (*SteadyHand, *testTools) {
	t.Helper()
	tools := newTestTools(t, 1)
	tools.moveTo(0, mgl64.Vec3{0, -0.1, 0.1})
	task, err := NewSteadyHand(testDeps(tools, guidance))
	require.NoError(t, err)
	t.Cleanup(task.Close)
	return task, tools
}

// onWire returns the ring pose centred on the wire at arc fraction f with its axis
// along the local tangent.
func onWire(path geom.Polyline, f float64) geom.Pose {
	target := f * path.Length()
	walked := 0.0
	for i := 1; i < len(path); i++ {
		seg := path[i].Sub(path[i-1])
		l := seg.Len()
		if walked+l >= target || i == len(path)-1 {
			u := math.Min(1, (target-walked)/l)
			dir := seg.Normalize()
			return geom.NewPose(path[i-1].Add(seg.Mul(u)), mgl64.QuatBetweenVectors(mgl64.Vec3{0, 0, 1}, dir))
		}
		walked += l
	}
	return geom.Identity()
}

// ringGrasp is the base pose of a gripper closed to holdGrip whose jaw tips pinch the
// ring tube at the ring's local +x, with the jaws closing along the ring axis.
func ringGrasp(ring geom.Pose) geom.Pose {
	reach := GripperLinkDims[1][2]*math.Cos(JawAngle(holdGrip)) + GripperLinkDims[3][2]/2
	// maps x, y, z onto y, z, x: the jaws close along the ring axis and point outwards
	rot := ring.Rot.Mul(mgl64.QuatRotate(2*math.Pi/3, mgl64.Vec3{1, 1, 1}.Normalize()))
	return geom.NewPose(ring.Apply(mgl64.Vec3{ringRadius - reach, 0, 0}), rot)
}

func TestSteadyHand_Actors(t *testing.T) {
	task, _ := newTestSteadyHand(t, false)
	// 4 wire segments, ring, start, end, desired marker, the score spheres and a rod
	assert.Len(t, task.Actors(), 4+1+2+1+HistoryLen+1)
	assert.Empty(t, task.grippers, "one tool holds the ring without a gripper")
	assert.Equal(t, NameSteadyHand, task.Name())
	assert.Equal(t, "idle", task.State().Label)
}

func TestSteadyHand_Repetition(t *testing.T) {
	task, tools := newTestSteadyHand(t, false)
	path := task.Path()

	steps(task, 3)
	assert.Equal(t, StateIdle, task.State().State, "far from the start")

	tools.move(0, onWire(path, 0))
	task.StepControl(tick)
	r := task.State()
	require.Equal(t, StateActive, r.State)
	assert.Equal(t, "on_going", r.Label)
	assert.Equal(t, 1, r.Repetition)

	for f := 0.02; f <= 1.0; f += 0.02 {
		tools.move(0, onWire(path, f))
		task.StepControl(tick)
	}
	tools.move(0, onWire(path, 1))
	task.StepControl(tick)

	r = task.State()
	require.Equal(t, StateFinished, r.State)
	assert.Equal(t, 1, r.Repetition)
	assert.Zero(t, r.Errors.Faults)
	assert.Positive(t, r.Errors.Samples)
	assert.Less(t, r.Errors.MeanPosition(), 1e-6)
	assert.Greater(t, r.Score, 80.0)
	require.Len(t, r.ScoreHistory, 1)
	assert.Equal(t, r.Score, r.ScoreHistory[0])

	task.StepRender()
	assert.Equal(t, ScoreColor(r.Score), task.spheres[0].Actor().Color())
	assert.Equal(t, colorGray, task.spheres[1].Actor().Color())

	// back at the start the next repetition begins
	tools.move(0, onWire(path, 0))
	task.StepControl(tick)
	r = task.State()
	assert.Equal(t, StateActive, r.State)
	assert.Equal(t, 2, r.Repetition)

	task.ResetAcquisition()
	r = task.State()
	assert.Equal(t, StateIdle, r.State)
	assert.Equal(t, 1, r.Repetition)
	assert.Len(t, r.ScoreHistory, 1)

	task.Reset()
	task.StepControl(tick)
	r = task.State()
	assert.Equal(t, StateIdle, r.State, "a ring left at the start does not restart")
	assert.Equal(t, 0, r.Repetition)
	assert.Empty(t, r.ScoreHistory)

	tools.move(0, onWire(path, 0.3))
	task.StepControl(tick)
	tools.move(0, onWire(path, 0))
	task.StepControl(tick)
	r = task.State()
	assert.Equal(t, StateActive, r.State)
	assert.Equal(t, 1, r.Repetition)
}

func TestSteadyHand_ResetAcquisitionNeedsRingToLeaveStart(t *testing.T) {
	task, tools := newTestSteadyHand(t, false)
	path := task.Path()

	tools.move(0, onWire(path, 0))
	task.StepControl(tick)
	require.Equal(t, StateActive, task.State().State)

	task.ResetAcquisition()
	steps(task, 5)
	assert.Equal(t, StateIdle, task.State().State)
	assert.Zero(t, task.State().Repetition)

	// still inside the start region
	nudged := onWire(path, 0)
	nudged.Pos = nudged.Pos.Add(mgl64.Vec3{0, 0, endpointRadius / 2})
	tools.move(0, nudged)
	task.StepControl(tick)
	assert.Equal(t, StateIdle, task.State().State)

	tools.move(0, onWire(path, 0.5))
	task.StepControl(tick)
	assert.Equal(t, StateIdle, task.State().State)

	tools.move(0, onWire(path, 0))
	task.StepControl(tick)
	assert.Equal(t, StateActive, task.State().State)
	assert.Equal(t, 1, task.State().Repetition)
}

func TestSteadyHand_RodsAndFrames(t *testing.T) {
	tools := newTestTools(t, 1)
	deps := testDeps(tools, true)
	deps.Options.ShowRefFrames = true
	task, err := NewSteadyHand(deps)
	require.NoError(t, err)
	t.Cleanup(task.Close)

	assert.Len(t, task.Actors(), 4+1+2+1+HistoryLen+1+2)
	require.Len(t, task.currentAxes, 1)
	require.Len(t, task.desiredAxes, 1)

	start := onWire(task.Path(), 0)
	off := geom.NewPose(start.Pos.Add(mgl64.Vec3{0, 0, 0.002}), start.Rot)
	tools.move(0, off)
	task.StepControl(tick)
	require.Equal(t, StateActive, task.State().State)
	task.StepRender()

	current := geom.FromMat4(task.currentAxes[0].Matrix())
	assert.True(t, current.ApproxEqual(off, 1e-9))
	assert.True(t, task.desiredAxes[0].Visible())
	want, pp := task.DesiredRingPose(off)
	assert.Less(t, pp.Distance, 0.0021)
	desired := geom.FromMat4(task.desiredAxes[0].Matrix())
	assert.True(t, desired.ApproxEqual(want, 1e-9), "the desired frame sits on the wire")

	rod := task.rods[0].Pose()
	assert.True(t, rod.ApproxEqual(rodPose(off), 1e-12))
	axis := rod.ApplyVector(mgl64.Vec3{0, 1, 0})
	assert.InDelta(t, 1, axis.Dot(off.ApplyVector(mgl64.Vec3{0, 0, 1})), 1e-9, "the rod lies along the tool axis")
}

func TestSteadyHand_Handover(t *testing.T) {
	tools := newTestTools(t, 2)
	tools.moveTo(1, mgl64.Vec3{0, 0.1, 0.1})
	grasp := &graspCounter{}
	deps := testDeps(tools, true)
	deps.Grasp = grasp
	task, err := NewSteadyHand(deps)
	require.NoError(t, err)
	t.Cleanup(task.Close)

	// two rods and two grippers
	assert.Len(t, task.Actors(), 4+1+2+1+HistoryLen+2+2*5)
	require.Len(t, task.grippers, 2)

	held := geom.NewPose(mgl64.Vec3{0, -0.05, 0.08}, mgl64.QuatIdent())
	tools.move(0, held)
	task.StepControl(tick)
	assert.Equal(t, 0, task.Holder())
	assert.True(t, task.Ring().Pose().ApproxEqual(held, 1e-9))

	// tool 1 pinches the ring, tool 0 keeps it while its jaw stays closed
	tools.grip(1, holdGrip)
	tools.move(1, ringGrasp(held))
	task.StepControl(tick)
	assert.Equal(t, 0, task.Holder())
	assert.Equal(t, 1, grasp.count("tool1"))
	task.StepRender()
	for _, a := range task.grippers[1].Actors() {
		assert.Equal(t, colorGreen, a.Color())
	}

	tools.grip(0, 1)
	task.StepControl(tick)
	require.Equal(t, 1, task.Holder())
	assert.True(t, task.Ring().Pose().ApproxEqual(held, 1e-9), "the ring does not jump on handover")

	// the ring now follows tool 1 and ignores tool 0
	shift := mgl64.Vec3{0.01, 0, 0}
	moved := ringGrasp(held)
	moved.Pos = moved.Pos.Add(shift)
	tools.move(1, moved)
	tools.moveTo(0, mgl64.Vec3{0, -0.1, 0.1})
	task.StepControl(tick)
	want := geom.NewPose(held.Pos.Add(shift), held.Rot)
	assert.True(t, task.Ring().Pose().ApproxEqual(want, 1e-9))

	// a scene reset gives the ring back to tool 0
	task.Reset()
	task.StepControl(tick)
	assert.Equal(t, 0, task.Holder())
	assert.True(t, task.Ring().Pose().ApproxEqual(tools.Pose(0), 1e-9))
}

func TestSteadyHand_WireTouchCountsFault(t *testing.T) {
	task, tools := newTestSteadyHand(t, false)
	path := task.Path()

	start := onWire(path, 0)
	tools.move(0, start)
	task.StepControl(tick)
	require.Equal(t, StateActive, task.State().State)

	// shift the ring sideways in its own plane until the tube sits on the wire
	tangent := path[1].Sub(path[0]).Normalize()
	side := tangent.Cross(mgl64.Vec3{0, 0, 1}).Normalize()
	touching := geom.NewPose(start.Pos.Add(side.Mul(ringRadius)), start.Rot)

	for i := 0; i < 2; i++ {
		tools.move(0, touching)
		task.StepControl(tick)
		task.StepControl(tick)
		tools.move(0, start)
		task.StepControl(tick)
	}
	assert.Equal(t, 2, task.State().Errors.Faults)

	tools.move(0, touching)
	task.StepControl(tick)
	task.StepRender()
	assert.Equal(t, colorRed, task.Ring().Actor().Color())
}

func TestSteadyHand_DesiredRingPose(t *testing.T) {
	task, _ := newTestSteadyHand(t, false)
	path := task.Path()

	on := onWire(path, 0.3)
	tilt := mgl64.QuatRotate(0.4, mgl64.Vec3{1, 0, 0})
	ring := geom.NewPose(on.Pos.Add(mgl64.Vec3{0, 0, 0.003}), tilt.Mul(on.Rot).Normalize())

	desired, pp := task.DesiredRingPose(ring)
	assert.InDelta(t, 0, pp.Distance-ring.Pos.Sub(pp.Point).Len(), 1e-12)
	assert.InDelta(t, 0, desired.Pos.Sub(pp.Point).Len(), 1e-12)
	axis := desired.Rot.Rotate(mgl64.Vec3{0, 0, 1})
	assert.InDelta(t, 1, axis.Dot(pp.Tangent), 1e-9)

	// a ring facing backwards is guided along the reversed tangent
	flipped := geom.NewPose(ring.Pos, ring.Rot.Mul(mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0})))
	desired, pp = task.DesiredRingPose(flipped)
	axis = desired.Rot.Rotate(mgl64.Vec3{0, 0, 1})
	assert.InDelta(t, -1, axis.Dot(pp.Tangent), 1e-9)
}

func TestSteadyHand_ACParams(t *testing.T) {
	t.Run("guidance", func(t *testing.T) {
		task, tools := newTestSteadyHand(t, true)
		assert.False(t, task.ACParamsChanged())

		steps(task, 2)
		assert.False(t, task.ACParamsChanged(), "no guidance while idle")

		tools.move(0, onWire(task.Path(), 0))
		task.StepControl(tick)
		require.True(t, task.ACParamsChanged())
		params := task.ACParams()
		require.Len(t, params, 1)
		assert.True(t, params[0].Active)
		assert.Zero(t, params[0].LinearStiffness, "gains start from zero")
		assert.False(t, task.ACParamsChanged())

		task.StepControl(tick)
		assert.True(t, task.ACParamsChanged(), "soft start raises the gains every tick")
		params = task.ACParams()
		assert.InDelta(t, float64(shLinearStiffness)/softStartTicks, params[0].LinearStiffness, 1e-9)

		steps(task, softStartTicks)
		task.ACParams()
		task.StepControl(tick)
		assert.False(t, task.ACParamsChanged(), "steady on the wire after the soft start")

		off := onWire(task.Path(), 0.02)
		off.Pos = off.Pos.Add(mgl64.Vec3{0, 0, 0.002})
		tools.move(0, off)
		task.StepControl(tick)
		require.True(t, task.ACParamsChanged())
		params = task.ACParams()
		assert.InDelta(t, -0.002, params[0].PositionError[2], 5e-4)
	})

	t.Run("no guidance", func(t *testing.T) {
		task, tools := newTestSteadyHand(t, false)
		tools.move(0, onWire(task.Path(), 0))
		steps(task, 5)
		assert.Equal(t, StateActive, task.State().State)
		assert.False(t, task.ACParamsChanged())
		assert.False(t, task.ACParams()[0].Active)
	})
}

func TestSteadyHandScore(t *testing.T) {
	assert.Equal(t, 100.0, SteadyHandScore(ErrorStats{}, 0))

	worst := ErrorStats{PositionSum: 1, OrientationSum: 10, Samples: 1, Faults: 50}
	assert.InDelta(t, 0, SteadyHandScore(worst, time.Hour), 1e-9)

	half := ErrorStats{PositionSum: ringRadius / 2, Samples: 1}
	assert.InDelta(t, 80, SteadyHandScore(half, 0), 1e-9)
}
