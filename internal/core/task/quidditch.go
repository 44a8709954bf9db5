package task

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/sim"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

const NameQuidditch = "quidditch"

const (
	QuidditchRings = 4

	qRingRadius  = 0.008
	qRingTube    = 0.001
	qRingDensity = 300
	// crossThreshold is the distance from the ring plane within which the pointer is
	// considered inside a ring.
	crossThreshold = 0.005
	ringHeight     = 0.035
	pointerRadius  = 0.002

	quidditchReference = 90 * time.Second
	touchPenalty       = 5

	qLinearStiffness = 80
	qLinearDamping   = 3
	qMaxForce        = 3
)

type ringPlacement struct {
	x, y float64
	// yaw turns the ring axis away from the x axis
	yaw float64
}

var quidditchLayout = [QuidditchRings]ringPlacement{
	{-0.04, 0, 0},
	{-0.01, 0.02, math.Pi / 4},
	{0.02, 0, 0},
	{0.045, -0.02, -math.Pi / 4},
}

var (
	colorTarget  = [3]float64{0.2, 0.8, 0.2}
	colorPassed  = [3]float64{0.6, 0.6, 0.6}
	colorPending = [3]float64{0.95, 0.85, 0.1}
	colorPointer = [3]float64{0.9, 0.3, 0.1}
)

// phases of an active quidditch repetition
const (
	phaseExit int32 = iota
	phaseEntry
)

// Quidditch is the ring course task: a pointer on tool 0 has to fly through four
// hinged rings in order. Rings swing when touched; every touch is a fault. An arrow
// above the pointer shows the way to the next ring.
type Quidditch struct {
	*core

	rings   [QuidditchRings]*sim.Entity
	initial [QuidditchRings]geom.Pose
	hinges  [QuidditchRings]*physics.HingeConstraint
	pointer *sim.Entity
	arrow   *sim.Entity

	phase atomic.Int32

	dmu     sync.Mutex
	display quidditchDisplay

	// control goroutine only
	target   int
	entry    float64
	touching bool
}

type quidditchDisplay struct {
	target  int
	pointer mgl64.Vec3
	next    mgl64.Vec3
	state   State
}

func NewQuidditch(deps Deps) (*Quidditch, error) {
	c, err := newCore(NameQuidditch, deps, [3]string{"idle", "entry", "finished"})
	if err != nil {
		return nil, err
	}
	t := &Quidditch{core: c}
	if err := t.build(); err != nil {
		c.Close()
		return nil, fmt.Errorf("build %s: %w", NameQuidditch, err)
	}
	t.publishAC(t.inactiveAC())
	c.log.Info("Task ready", log.Int("rings", QuidditchRings), log.Bool("guidance", deps.Options.Guidance))
	return t, nil
}

func (t *Quidditch) build() error {
	if _, err := t.entity(sim.ShapeBox, sim.Dynamic, boardDims[:],
		sim.WithName("ground"),
		sim.WithPose(geom.Translation(0, 0, -boardDims[2]/2)),
		sim.WithColor(colorBoard[0], colorBoard[1], colorBoard[2]),
	); err != nil {
		return err
	}

	torus := sim.Torus(qRingRadius, qRingTube, 32, 12)
	for i, place := range quidditchLayout {
		yaw := mgl64.QuatRotate(place.yaw, mgl64.Vec3{0, 0, 1})
		pose := geom.NewPose(mgl64.Vec3{place.x, place.y, ringHeight}, yaw.Mul(mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})))
		ring, err := t.entity(sim.ShapeMesh, sim.Dynamic, nil,
			sim.WithName(fmt.Sprintf("ring/%d", i)),
			sim.WithID(i),
			sim.WithMesh(torus),
			sim.WithPose(pose),
			sim.WithDensity(qRingDensity),
			sim.WithColor(colorPending[0], colorPending[1], colorPending[2]),
		)
		if err != nil {
			return err
		}
		t.rings[i] = ring
		t.initial[i] = pose

		// the ring hangs from the top of its rim; local -x points up
		pivot := mgl64.Vec3{-(qRingRadius + qRingTube) * sim.DimScale, 0, 0}
		hinge := physics.NewHinge(ring.Body(), pivot, mgl64.Vec3{0, 1, 0})
		if err := t.world.AddConstraint(hinge); err != nil {
			return err
		}
		t.hinges[i] = hinge

		top := pose.Apply(mgl64.Vec3{-(qRingRadius + qRingTube), 0, 0})
		if _, err := t.entity(sim.ShapeCylinder, sim.NoPhysics, []float64{0.001, 0.006},
			sim.WithName(fmt.Sprintf("ring/%d/hinge", i)),
			sim.WithPose(geom.NewPose(top, yaw)),
			sim.WithColor(colorGray[0], colorGray[1], colorGray[2]),
		); err != nil {
			return err
		}
	}

	var err error
	t.pointer, err = t.entity(sim.ShapeSphere, sim.Kinematic, []float64{pointerRadius},
		sim.WithName("pointer"),
		sim.WithPose(t.tools.Pose(0)),
		sim.WithColor(colorPointer[0], colorPointer[1], colorPointer[2]),
	)
	if err != nil {
		return err
	}

	t.arrow, err = t.entity(sim.ShapeCone, sim.NoPhysics, []float64{0.0015, 0.006},
		sim.WithName("arrow"),
		sim.WithColor(colorTarget[0], colorTarget[1], colorTarget[2]),
	)
	return err
}

// State adds the entry or exit phase to the label of an active repetition.
func (t *Quidditch) State() StateRecord {
	r := t.core.State()
	if r.State == StateActive && t.phase.Load() == phaseExit {
		r.Label = "exit"
	}
	return r
}

// Target returns the index of the next ring to fly through
func (t *Quidditch) Target() int {
	t.dmu.Lock()
	defer t.dmu.Unlock()
	return t.display.target
}

func (t *Quidditch) Rings() [QuidditchRings]*sim.Entity { return t.rings }

// HingeAngle returns how far ring i has swung from its rest pose
func (t *Quidditch) HingeAngle(i int) float64 { return t.hinges[i].Angle() }

// RingAxis returns the centre and the axis of ring i in its current pose.
func (t *Quidditch) RingAxis(i int) (mgl64.Vec3, mgl64.Vec3) {
	p := t.rings[i].Pose()
	return p.Pos, p.ApplyVector(mgl64.Vec3{0, 0, 1})
}

func (t *Quidditch) StepControl(dt time.Duration) {
	if t.closed.Load() {
		return
	}
	if t.takeSceneReset() {
		t.resetScene()
	}

	t.pointer.SetKinematicFrame(t.tools.Pose(0))
	t.stepWorld(dt)

	p := t.pointer.Pose().Pos
	touching := t.ringContact()
	state := t.current()

	if state == StateActive {
		t.activeTicks++
		if touching && !t.touching {
			t.fault()
		}
	}
	t.touching = touching

	if state != StateFinished && t.target < QuidditchRings {
		t.checkCrossing(p)
	}

	state = t.current()
	var next mgl64.Vec3
	if t.target < QuidditchRings {
		next, _ = t.RingAxis(t.target)
	}

	params := t.inactiveAC()
	if state == StateActive && t.opts.Guidance && t.target < QuidditchRings {
		s := t.softStart()
		params[0] = ACParams{
			Tool:            0,
			Active:          true,
			LinearStiffness: qLinearStiffness * s,
			LinearDamping:   qLinearDamping,
			MaxForce:        qMaxForce,
			PositionError:   vec(next.Sub(p)),
		}
	}
	t.publishAC(params)

	t.dmu.Lock()
	t.display = quidditchDisplay{target: t.target, pointer: p, next: next, state: state}
	t.dmu.Unlock()
}

// checkCrossing moves the pointer through the entry and exit of the target ring. The
// pointer enters when it is inside the ring within crossThreshold of its plane and passes
// when it leaves that slab on the other side, still inside the ring.
func (t *Quidditch) checkCrossing(p mgl64.Vec3) {
	center, axis := t.RingAxis(t.target)
	rel := p.Sub(center)
	side := rel.Dot(axis)
	radial := rel.Sub(axis.Mul(side)).Len()
	inside := radial < qRingRadius-qRingTube

	if t.phase.Load() == phaseExit {
		if !inside || math.Abs(side) >= crossThreshold {
			// remember which side the pointer approaches from
			t.entry = side
			return
		}
		if t.entry == 0 {
			t.entry = side
		}
		if t.current() != StateActive {
			if t.target != 0 || !t.start() {
				return
			}
		}
		t.phase.Store(phaseEntry)
		t.log.Debug("Entered ring", log.Int("ring", t.target))
		return
	}

	if math.Abs(side) < crossThreshold {
		return
	}
	if !inside || math.Signbit(side) == math.Signbit(t.entry) {
		// backed out the way it came or slipped out past the rim
		t.phase.Store(phaseExit)
		t.entry = side
		return
	}

	t.log.Debug("Passed ring", log.Int("ring", t.target))
	t.target++
	t.entry = 0
	t.phase.Store(phaseExit)
	if t.target == QuidditchRings {
		stats, elapsed := t.stats()
		t.finish(QuidditchScore(stats, elapsed))
	}
}

func (t *Quidditch) ringContact() bool {
	for _, r := range t.rings {
		if t.world.ContactPairTest(t.pointer.Body(), r.Body(), 0, nil) > 0 {
			return true
		}
	}
	return false
}

func (t *Quidditch) resetScene() {
	for i, r := range t.rings {
		r.Teleport(t.initial[i])
	}
	t.target = 0
	t.entry = 0
	t.touching = false
	t.activeTicks = 0
	t.phase.Store(phaseExit)
}

// StepRender colours the rings by progress and points the arrow at the next ring.
func (t *Quidditch) StepRender() {
	t.dmu.Lock()
	d := t.display
	t.dmu.Unlock()

	for i, r := range t.rings {
		c := colorPending
		switch {
		case i < d.target:
			c = colorPassed
		case i == d.target:
			c = colorTarget
		}
		r.Actor().SetColor(c[0], c[1], c[2])
	}

	if d.state == StateFinished || d.target >= QuidditchRings {
		t.arrow.Actor().SetVisible(false)
		return
	}
	dir := d.next.Sub(d.pointer)
	if dir.Len() < 1e-9 {
		dir = mgl64.Vec3{0, 1, 0}
	}
	at := d.pointer.Add(mgl64.Vec3{0, 0, 3 * pointerRadius})
	t.arrow.Teleport(geom.NewPose(at, mgl64.QuatBetweenVectors(mgl64.Vec3{0, 1, 0}, dir.Normalize())))
	t.arrow.Actor().SetVisible(true)
}

// QuidditchScore maps the duration of a repetition onto [0, 100] and removes a fixed
// amount per ring touch.
func QuidditchScore(stats ErrorStats, elapsed time.Duration) float64 {
	duration := clamp01(elapsed.Seconds() / quidditchReference.Seconds())
	return 100*(1-duration) - touchPenalty*float64(stats.Faults)
}
