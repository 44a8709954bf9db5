package task

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approach = 0.01

func newTestQuidditch(t *testing.T, guidance bool) (*Quidditch, *testTools) {
	t.Helper()
	tools := newTestTools(t, 1)
	tools.moveTo(0, mgl64.Vec3{0, -0.1, 0.1})
	task, err := NewQuidditch(testDeps(tools, guidance))
	require.NoError(t, err)
	t.Cleanup(task.Close)
	return task, tools
}

// fly moves the pointer to each point in turn, one control tick per point.
func fly(task *Quidditch, tools *testTools, points ...mgl64.Vec3) {
	for _, p := range points {
		tools.moveTo(0, p)
		task.StepControl(tick)
	}
}

// through returns the approach, centre and exit points of ring i
func through(task *Quidditch, i int) []mgl64.Vec3 {
	c, axis := task.RingAxis(i)
	return []mgl64.Vec3{c.Sub(axis.Mul(approach)), c, c.Add(axis.Mul(approach))}
}

func TestQuidditch_Layout(t *testing.T) {
	task, _ := newTestQuidditch(t, false)
	// ground, rings with their hinges, pointer and arrow
	assert.Len(t, task.Actors(), 1+2*QuidditchRings+2)

	for i, place := range quidditchLayout {
		c, axis := task.RingAxis(i)
		assert.InDelta(t, 0, c.Sub(mgl64.Vec3{place.x, place.y, ringHeight}).Len(), 1e-9, "ring %d", i)
		assert.InDelta(t, 1, axis.Len(), 1e-9)
		assert.InDelta(t, 0, axis[2], 1e-9, "ring %d axis is horizontal", i)
	}
}

func TestQuidditch_RingsHangStill(t *testing.T) {
	task, _ := newTestQuidditch(t, false)
	steps(task, 250)
	for i := 0; i < QuidditchRings; i++ {
		assert.Less(t, task.HingeAngle(i), 0.1, "ring %d", i)
		c, _ := task.RingAxis(i)
		assert.InDelta(t, ringHeight, c[2], 1e-3, "ring %d", i)
	}
}

func TestQuidditch_Course(t *testing.T) {
	task, tools := newTestQuidditch(t, false)

	points := through(task, 0)
	fly(task, tools, points[0])
	assert.Equal(t, StateIdle, task.State().State)

	fly(task, tools, points[1])
	r := task.State()
	require.Equal(t, StateActive, r.State)
	assert.Equal(t, "entry", r.Label)
	assert.Equal(t, 1, r.Repetition)

	fly(task, tools, points[2])
	assert.Equal(t, 1, task.Target())
	assert.Equal(t, "exit", task.State().Label)

	task.StepRender()
	assert.Equal(t, colorPassed, task.Rings()[0].Actor().Color())
	assert.Equal(t, colorTarget, task.Rings()[1].Actor().Color())
	assert.Equal(t, colorPending, task.Rings()[2].Actor().Color())
	assert.True(t, task.arrow.Actor().Visible())

	for i := 1; i < QuidditchRings; i++ {
		fly(task, tools, through(task, i)...)
		if i < QuidditchRings-1 {
			assert.Equal(t, i+1, task.Target())
		}
	}

	r = task.State()
	require.Equal(t, StateFinished, r.State)
	assert.Zero(t, r.Errors.Faults)
	assert.Greater(t, r.Score, 95.0)
	assert.Equal(t, []float64{r.Score}, r.ScoreHistory)

	task.StepRender()
	assert.False(t, task.arrow.Actor().Visible())

	// a finished course does not restart by itself
	fly(task, tools, through(task, 0)...)
	assert.Equal(t, StateFinished, task.State().State)

	task.ResetAcquisition()
	task.StepControl(tick)
	r = task.State()
	assert.Equal(t, StateIdle, r.State)
	assert.Empty(t, r.ScoreHistory)
	assert.Equal(t, 0, task.Target())
}

func TestQuidditch_BackingOutDoesNotPass(t *testing.T) {
	task, tools := newTestQuidditch(t, false)
	points := through(task, 0)

	fly(task, tools, points[0], points[1], points[0])
	assert.Equal(t, StateActive, task.State().State)
	assert.Equal(t, 0, task.Target())
	assert.Equal(t, "exit", task.State().Label)

	fly(task, tools, points[1], points[2])
	assert.Equal(t, 1, task.Target())
	assert.Equal(t, 1, task.State().Repetition)
}

func TestQuidditch_WrongRingDoesNotStart(t *testing.T) {
	task, tools := newTestQuidditch(t, false)
	fly(task, tools, through(task, 2)...)
	assert.Equal(t, StateIdle, task.State().State)
	assert.Equal(t, 0, task.Target())
}

func TestQuidditch_TouchCountsFault(t *testing.T) {
	task, tools := newTestQuidditch(t, false)
	points := through(task, 0)
	fly(task, tools, points[0], points[1])
	require.Equal(t, StateActive, task.State().State)

	c, _ := task.RingAxis(0)
	fly(task, tools, c.Add(mgl64.Vec3{0, 0, qRingRadius}), mgl64.Vec3{0, -0.1, 0.1})
	assert.GreaterOrEqual(t, task.State().Errors.Faults, 1)

	task.Reset()
	task.StepControl(tick)
	r := task.State()
	assert.Equal(t, StateIdle, r.State)
	assert.Zero(t, r.Errors.Faults)
	assert.Equal(t, 0, task.Target())
	c, _ = task.RingAxis(0)
	assert.InDelta(t, 0, c.Sub(task.initial[0].Pos).Len(), 1e-3)
}

func TestQuidditch_Guidance(t *testing.T) {
	task, tools := newTestQuidditch(t, true)
	points := through(task, 0)
	fly(task, tools, points[0], points[1], points[2])
	require.Equal(t, StateActive, task.State().State)
	require.True(t, task.ACParamsChanged())

	params := task.ACParams()
	require.Len(t, params, 1)
	assert.True(t, params[0].Active)
	next, _ := task.RingAxis(1)
	want := next.Sub(points[2])
	for k := 0; k < 3; k++ {
		assert.InDelta(t, want[k], params[0].PositionError[k], 1e-6)
	}
}

func TestQuidditchScore(t *testing.T) {
	assert.Equal(t, 100.0, QuidditchScore(ErrorStats{}, 0))
	assert.InDelta(t, 40, QuidditchScore(ErrorStats{Faults: 2}, quidditchReference/2), 1e-9)
	assert.InDelta(t, -10, QuidditchScore(ErrorStats{Faults: 2}, time.Hour), 1e-9)
}
