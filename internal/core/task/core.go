package task

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/sim"
	"github.com/zeusync/atar/internal/core/syncv2/vars"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

// softStartTicks is the number of control ticks over which guidance gains ramp up.
const softStartTicks = 200

// gravity in scaled physics units
var gravity = mgl64.Vec3{0, 0, -9.81 * sim.DimScale}

// core holds what every task shares: the physics world, the state machine, the score
// history and the published AC parameters. mu guards the repetition fields and is never
// held while the world steps.
type core struct {
	name   string
	log    log.Log
	tools  ToolSource
	meshes *sim.MeshLibrary
	grasp  GraspObserver
	opts   Options
	labels [3]string
	now    func() time.Time

	world  *physics.World
	actors []*render.Actor

	mu          sync.Mutex
	state       State
	repetition  int
	score       float64
	history     *ScoreHistory
	acquisition string
	started     time.Time
	elapsed     time.Duration
	errors      ErrorStats

	ac         *vars.Snapshot[[]ACParams]
	sceneReset atomic.Bool
	closed     atomic.Bool

	// control goroutine only
	activeTicks int
}

func newCore(name string, deps Deps, labels [3]string) (*core, error) {
	if deps.Tools == nil || deps.Tools.Len() == 0 {
		return nil, ErrNoTools
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Provide()
	}
	meshes := deps.Meshes
	if meshes == nil {
		meshes = sim.NewMeshLibrary(logger)
	}

	c := &core{
		name:    name,
		log:     logger.With(log.String("component", "task"), log.String("task", name)),
		tools:   deps.Tools,
		meshes:  meshes,
		grasp:   deps.Grasp,
		opts:    deps.Options,
		labels:  labels,
		now:     time.Now,
		world:   physics.NewWorld(physics.WorldConfig{Gravity: gravity}),
		history: NewScoreHistory(HistoryLen),
	}

	initial := make([]ACParams, deps.Tools.Len())
	for i := range initial {
		initial[i].Tool = i
	}
	c.ac = vars.NewSnapshot(initial)
	return c, nil
}

func (c *core) Name() string { return c.name }

// add registers an entity: its actor is drawn and its body, if any, joins the world.
func (c *core) add(e *sim.Entity) (*sim.Entity, error) {
	if e.Body() != nil {
		if _, err := c.world.AddRigidBody(e.Body()); err != nil {
			return nil, err
		}
	}
	c.actors = append(c.actors, e.Actor())
	return e, nil
}

func (c *core) entity(shape sim.ShapeKind, kind sim.PhysicsKind, dims []float64, opts ...sim.Option) (*sim.Entity, error) {
	opts = append(opts, sim.WithLogger(c.log), sim.WithMeshes(c.meshes))
	e, err := sim.NewEntity(shape, kind, dims, opts...)
	if err != nil {
		return nil, err
	}
	return c.add(e)
}

// visual adds a drawn-only mesh from the mesh directory. Without a mesh directory it
// adds nothing and returns a nil entity.
func (c *core) visual(name, file string, pose geom.Pose, color [3]float64) (*sim.Entity, error) {
	if c.opts.MeshDir == "" {
		return nil, nil
	}
	return c.entity(sim.ShapeMesh, sim.NoPhysics, nil,
		sim.WithName(name),
		sim.WithMeshPath(filepath.Join(c.opts.MeshDir, file)),
		sim.WithPose(pose),
		sim.WithColor(color[0], color[1], color[2]),
	)
}

func (c *core) addActor(a *render.Actor) {
	c.actors = append(c.actors, a)
}

func (c *core) Actors() []*render.Actor {
	return append([]*render.Actor(nil), c.actors...)
}

func (c *core) State() StateRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked()
}

func (c *core) recordLocked() StateRecord {
	r := StateRecord{
		Task:          c.name,
		State:         c.state,
		Label:         c.labels[c.state],
		Repetition:    c.repetition,
		Score:         c.score,
		ScoreHistory:  c.history.Values(),
		AcquisitionID: c.acquisition,
		Elapsed:       c.elapsed,
		Errors:        c.errors,
	}
	if c.state == StateActive {
		r.Elapsed = c.now().Sub(c.started)
	}
	return r
}

func (c *core) current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// start enters Active from Idle or Finished and counts a new repetition
func (c *core) start() bool {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return false
	}
	c.state = StateActive
	c.repetition++
	c.acquisition = uuid.NewString()
	c.started = c.now()
	c.elapsed = 0
	c.score = 0
	c.errors = ErrorStats{}
	rep, id := c.repetition, c.acquisition
	c.mu.Unlock()

	c.activeTicks = 0
	c.log.Info("Repetition started", log.Int("repetition", rep), log.String("acquisition", id))
	return true
}

// finish enters Finished from Active and records the score
func (c *core) finish(score float64) bool {
	score = math.Max(0, math.Min(100, score))

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false
	}
	c.state = StateFinished
	c.elapsed = c.now().Sub(c.started)
	c.score = score
	c.history.Push(score)
	rep, elapsed, stats := c.repetition, c.elapsed, c.errors
	c.mu.Unlock()

	c.log.Info("Repetition finished",
		log.Int("repetition", rep),
		log.Float64("score", score),
		log.Duration("elapsed", elapsed),
		log.Int("faults", stats.Faults),
		log.Float64("mean_position_error", stats.MeanPosition()),
	)
	return true
}

// sample adds one tracking error measurement to the running repetition
func (c *core) sample(position, orientation float64) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.errors.PositionSum += position
	c.errors.OrientationSum += orientation
	c.errors.PositionMax = math.Max(c.errors.PositionMax, position)
	c.errors.OrientationMax = math.Max(c.errors.OrientationMax, orientation)
	c.errors.Samples++
	c.mu.Unlock()
}

func (c *core) fault() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.errors.Faults++
	n := c.errors.Faults
	c.mu.Unlock()
	c.log.Debug("Task fault", log.Int("faults", n))
}

func (c *core) stats() (ErrorStats, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors, c.now().Sub(c.started)
}

func (c *core) historyValues() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Values()
}

// Reset returns to Idle, zeroes the repetition counter and clears the history. The
// scene itself is put back by the next control tick.
func (c *core) Reset() {
	c.mu.Lock()
	c.state = StateIdle
	c.repetition = 0
	c.score = 0
	c.acquisition = ""
	c.elapsed = 0
	c.errors = ErrorStats{}
	c.history.Reset()
	c.mu.Unlock()

	c.sceneReset.Store(true)
	c.log.Info("Task reset")
}

// ResetAcquisition voids the running or last finished repetition: the counter goes
// back by one and a finished score is removed from the history. It does nothing while
// Idle.
func (c *core) ResetAcquisition() {
	c.mu.Lock()
	prev := c.state
	if prev == StateIdle {
		c.mu.Unlock()
		return
	}
	if prev == StateFinished {
		c.history.Pop()
	}
	if c.repetition > 0 {
		c.repetition--
	}
	c.state = StateIdle
	c.score = 0
	c.acquisition = ""
	c.elapsed = 0
	c.errors = ErrorStats{}
	rep := c.repetition
	c.mu.Unlock()

	c.sceneReset.Store(true)
	c.log.Info("Acquisition reset", log.Stringer("from", prev), log.Int("repetition", rep))
}

// takeSceneReset reports whether a reset was requested since the last call
func (c *core) takeSceneReset() bool {
	return c.sceneReset.Swap(false)
}

// softStart returns the guidance gain factor, ramping from 0 to 1 after each start.
func (c *core) softStart() float64 {
	if c.activeTicks >= softStartTicks {
		return 1
	}
	return float64(c.activeTicks) / softStartTicks
}

// publishAC stores next when any tool changed meaningfully since the last publication.
func (c *core) publishAC(next []ACParams) {
	next = append([]ACParams(nil), next...)
	c.ac.Update(func(cur []ACParams) ([]ACParams, bool) {
		if len(cur) != len(next) {
			return next, true
		}
		for i := range next {
			if next[i].Meaningful(cur[i]) {
				return next, true
			}
		}
		return cur, false
	})
}

func (c *core) ACParamsChanged() bool {
	return c.ac.IsDirty()
}

func (c *core) ACParams() []ACParams {
	c.ac.MarkClean()
	return append([]ACParams(nil), c.ac.Get()...)
}

// inactiveAC returns guidance switched off for every tool
func (c *core) inactiveAC() []ACParams {
	out := make([]ACParams, c.tools.Len())
	for i := range out {
		out[i].Tool = i
	}
	return out
}

func (c *core) graspChanged(tool int, grasping bool) {
	c.log.Debug("Grasp changed", log.Int("tool", tool), log.Bool("grasping", grasping))
	if c.grasp != nil {
		c.grasp.GraspChanged(c.toolLabel(tool))
	}
}

func (c *core) toolLabel(i int) string {
	return fmt.Sprintf("tool%d", i)
}

// stepWorld advances physics by dt
func (c *core) stepWorld(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.world.Step(dt.Seconds())
}

func (c *core) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.world.Close()
	c.log.Debug("Task closed")
}

func vec(a mgl64.Vec3) [3]float64 {
	return [3]float64{a[0], a[1], a[2]}
}
