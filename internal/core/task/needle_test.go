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

const holdGrip = 0.3

type needleFixture struct {
	task  *Needle
	tools *testTools
	grasp *graspCounter
}

func newTestNeedle(t *testing.T, guidance bool, opts ...func(*Deps)) *needleFixture {
	t.Helper()
	tools := newTestTools(t, 2)
	tools.moveTo(0, mgl64.Vec3{0, -0.03, 0.05})
	tools.moveTo(1, mgl64.Vec3{0, 0.03, 0.05})
	tools.grip(0, 1)
	tools.grip(1, 1)

	grasp := &graspCounter{}
	deps := testDeps(tools, guidance)
	deps.Grasp = grasp
	for _, opt := range opts {
		opt(&deps)
	}
	task, err := NewNeedle(deps)
	require.NoError(t, err)
	t.Cleanup(task.Close)

	// let the needle settle on the board
	steps(task, 20)
	return &needleFixture{task: task, tools: tools, grasp: grasp}
}

// holdPose is the base pose of a gripper pointing down whose jaw tips, closed to
// holdGrip, sit on both sides of a needle centred at p.
func holdPose(p mgl64.Vec3) geom.Pose {
	reach := GripperLinkDims[1][2]*math.Cos(JawAngle(holdGrip)) + GripperLinkDims[3][2]/2
	return geom.NewPose(p.Add(mgl64.Vec3{0, 0, reach}), mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0}))
}

// pickUp grasps the needle with tool 0 and lifts it to the height of the ring centre.
func (f *needleFixture) pickUp(t *testing.T) geom.Pose {
	t.Helper()
	base := holdPose(f.task.NeedleEntity().Pose().Pos)
	f.tools.grip(0, holdGrip)
	f.tools.move(0, base)
	f.task.StepControl(tick)
	require.Equal(t, []bool{true, false}, f.task.Grasping())

	for base.Pos[2]-holdPose(mgl64.Vec3{}).Pos[2] < targetCenter[2] {
		base.Pos[2] += 0.001
		f.tools.move(0, base)
		f.task.StepControl(tick)
	}
	return base
}

func TestNeedle_Actors(t *testing.T) {
	f := newTestNeedle(t, false)
	// board, ring, post, needle and two grippers
	assert.Len(t, f.task.Actors(), 4+2*5)
	assert.Equal(t, NameNeedle, f.task.Name())
}

func TestJawAngle(t *testing.T) {
	assert.Zero(t, JawAngle(-1))
	assert.Zero(t, JawAngle(0))
	assert.InDelta(t, maxJawAngle/2, JawAngle(0.5), 1e-12)
	assert.Equal(t, maxJawAngle, JawAngle(3))
}

func TestNeedle_NeedleRestsOnBoard(t *testing.T) {
	f := newTestNeedle(t, false)
	steps(f.task, 100)
	p := f.task.NeedleEntity().Pose().Pos
	assert.InDelta(t, needleStart.Pos[2], p[2], 2e-4)
	assert.InDelta(t, needleStart.Pos[0], p[0], 1e-3)
	assert.Equal(t, StateIdle, f.task.State().State)
	assert.Equal(t, []bool{false, false}, f.task.Grasping())
}

func TestNeedle_GraspStartsRepetition(t *testing.T) {
	f := newTestNeedle(t, false)
	base := f.pickUp(t)

	r := f.task.State()
	require.Equal(t, StateActive, r.State)
	assert.Equal(t, 1, r.Repetition)
	assert.NotEmpty(t, r.AcquisitionID)
	assert.Equal(t, 1, f.grasp.count("tool0"))
	assert.Zero(t, f.grasp.count("tool1"))

	// the needle follows the gripper
	held := f.task.NeedleEntity().Pose().Pos
	assert.InDelta(t, targetCenter[2], held[2], 1.5e-3)
	assert.InDelta(t, base.Pos[0], held[0], 1e-3)

	f.task.StepRender()
	for _, a := range f.task.grippers[0].Actors() {
		assert.Equal(t, colorGreen, a.Color())
	}
	for _, a := range f.task.grippers[1].Actors() {
		assert.NotEqual(t, colorGreen, a.Color())
	}
}

func TestNeedle_PassThroughRing(t *testing.T) {
	f := newTestNeedle(t, false)
	base := f.pickUp(t)
	base.Pos[1] = targetCenter[1]

	for i := 0; i < 30 && f.task.State().State == StateActive; i++ {
		base.Pos[0] += 0.002
		f.tools.move(0, base)
		f.task.StepControl(tick)
	}

	r := f.task.State()
	require.Equal(t, StateFinished, r.State)
	assert.Zero(t, r.Errors.Faults)
	assert.Positive(t, r.Errors.Samples)
	assert.Greater(t, r.Score, 90.0)
	assert.Equal(t, []float64{r.Score}, r.ScoreHistory)

	// the tip crossed the ring plane while the needle centre was one half length short
	held := f.task.NeedleEntity().Pose().Pos
	assert.InDelta(t, targetCenter[0]-needleLength/2, held[0], 0.0025)
}

func TestNeedle_DropCountsFault(t *testing.T) {
	f := newTestNeedle(t, false)
	base := f.pickUp(t)

	f.tools.grip(0, 1)
	f.tools.move(0, base)
	f.task.StepControl(tick)

	r := f.task.State()
	assert.Equal(t, StateActive, r.State)
	assert.Equal(t, 1, r.Errors.Faults)
	assert.Equal(t, []bool{false, false}, f.task.Grasping())
	assert.Equal(t, 2, f.grasp.count("tool0"))

	// the needle falls back onto the board
	steps(f.task, 300)
	assert.Less(t, f.task.NeedleEntity().Pose().Pos[2], 0.003)
}

func TestNeedle_ResetAcquisitionPutsNeedleBack(t *testing.T) {
	f := newTestNeedle(t, false)
	f.pickUp(t)

	f.tools.grip(0, 1)
	f.tools.moveTo(0, mgl64.Vec3{0, -0.03, 0.05})
	f.task.ResetAcquisition()
	f.task.StepControl(tick)

	r := f.task.State()
	assert.Equal(t, StateIdle, r.State)
	assert.Equal(t, 0, r.Repetition)
	// put back at the start pose, then one tick of settling under gravity
	assert.True(t, f.task.NeedleEntity().Pose().ApproxEqual(needleStart, 2e-4))
	assert.Equal(t, []bool{false, false}, f.task.Grasping())
}

func TestNeedle_MeshFollowsNeedle(t *testing.T) {
	f := newTestNeedle(t, false, func(d *Deps) { d.Options.MeshDir = t.TempDir() })
	require.NotNil(t, f.task.mesh)
	assert.Len(t, f.task.Actors(), 4+2*5+1)

	f.pickUp(t)
	f.task.StepRender()

	needle := f.task.NeedleEntity().Pose()
	require.False(t, needle.ApproxEqual(needleStart, 1e-3), "the needle was lifted")
	mesh := geom.FromMat4(f.task.mesh.Actor().Matrix())
	assert.True(t, mesh.ApproxEqual(needle, 1e-9))
}

func TestNeedle_GuidanceFollowsHolder(t *testing.T) {
	f := newTestNeedle(t, true)
	assert.False(t, f.task.ACParamsChanged())

	f.pickUp(t)
	require.True(t, f.task.ACParamsChanged())
	params := f.task.ACParams()
	require.Len(t, params, 2)
	assert.True(t, params[0].Active)
	assert.False(t, params[1].Active)
	assert.Positive(t, params[0].LinearStiffness)
	assert.Positive(t, params[0].PositionError[0], "the ring lies ahead in x")
}

func TestNeedleScore(t *testing.T) {
	assert.Equal(t, 100.0, NeedleScore(ErrorStats{}, 0))
	assert.InDelta(t, 70, NeedleScore(ErrorStats{}, needleReference/2), 1e-9)
	assert.InDelta(t, 0, NeedleScore(ErrorStats{Faults: 9}, time.Hour), 1e-9)
}
