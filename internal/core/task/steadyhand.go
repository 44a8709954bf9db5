package task

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/sim"
)

const NameSteadyHand = "steady_hand"

const (
	ringRadius = 0.006
	ringTube   = 0.0007
	wireRadius = 0.001
	// endpointRadius is how close the ring centre must come to the start or end of the
	// wire to start or finish a repetition.
	endpointRadius = 0.004

	steadyHandReference = 60 * time.Second
	maxFaultsPenalized  = 10

	// releaseGrip is the grip above which the holding tool lets another gripper take
	// the ring.
	releaseGrip = 0.8

	rodRadius  = 0.001
	rodLength  = 0.08
	axesLength = 0.01

	shLinearStiffness  = 150
	shLinearDamping    = 5
	shAngularStiffness = 0.05
	shAngularDamping   = 0.002
	shMaxForce         = 4
	shMaxTorque        = 0.03
)

var defaultWire = [][3]float64{
	{-0.05, 0, 0.03},
	{-0.03, 0.015, 0.04},
	{0, 0.02, 0.045},
	{0.03, 0.01, 0.04},
	{0.05, 0, 0.03},
}

var (
	colorRing    = [3]float64{0.95, 0.85, 0.1}
	colorWire    = [3]float64{0.85, 0.85, 0.85}
	colorDesired = [3]float64{0.2, 0.4, 0.9}
)

// SteadyHand is the ring and wire task: the ring follows the tool holding it and has
// to travel along the wire from its start to its end without touching it. The desired
// ring pose is the closest point on the wire with the ring axis along the wire tangent.
//
// Tool 0 holds the ring at its own frame. With two tools every tool carries a gripper
// and the ring is passed on when the other gripper grasps it and the holder opens its
// jaw.
type SteadyHand struct {
	*core

	path     geom.Polyline
	ring     *sim.Entity
	wire     []*sim.Entity
	desired  *sim.Entity
	spheres  []*sim.Entity
	rods     []*sim.Entity
	grippers []*sim.Gripper
	// current and desired tool frames, built with ShowRefFrames
	currentAxes []*render.Actor
	desiredAxes []*render.Actor

	dmu     sync.Mutex
	display steadyHandDisplay

	// control goroutine only
	touching   bool
	armed      bool
	holder     int
	toolToRing []geom.Pose
	grasping   []bool
}

type steadyHandDisplay struct {
	desired       geom.Pose
	desiredTool   geom.Pose
	tools         []geom.Pose
	grasping      []bool
	holder        int
	positionError float64
	touching      bool
	active        bool
}

func NewSteadyHand(deps Deps) (*SteadyHand, error) {
	c, err := newCore(NameSteadyHand, deps, [3]string{"idle", "on_going", "finished"})
	if err != nil {
		return nil, err
	}
	t := &SteadyHand{
		core:       c,
		armed:      true,
		toolToRing: make([]geom.Pose, deps.Tools.Len()),
		display:    steadyHandDisplay{desired: geom.Identity(), desiredTool: geom.Identity()},
	}
	for i := range t.toolToRing {
		t.toolToRing[i] = geom.Identity()
	}
	if err := t.build(); err != nil {
		c.Close()
		return nil, fmt.Errorf("build %s: %w", NameSteadyHand, err)
	}
	t.publishAC(t.inactiveAC())
	c.log.Info("Task ready",
		log.Int("wire_points", len(t.path)),
		log.Bool("bimanual", len(t.grippers) > 0),
		log.Bool("guidance", deps.Options.Guidance),
	)
	return t, nil
}

func (t *SteadyHand) build() error {
	points := t.opts.Path
	if len(points) < 2 {
		points = defaultWire
	}
	t.path = make(geom.Polyline, len(points))
	for i, p := range points {
		t.path[i] = mgl64.Vec3{p[0], p[1], p[2]}
	}

	for i := 1; i < len(t.path); i++ {
		a, b := t.path[i-1], t.path[i]
		seg := b.Sub(a)
		if seg.Len() < 1e-9 {
			continue
		}
		pose := geom.NewPose(a.Add(b).Mul(0.5), mgl64.QuatBetweenVectors(mgl64.Vec3{0, 1, 0}, seg.Normalize()))
		e, err := t.entity(sim.ShapeCylinder, sim.Dynamic, []float64{wireRadius, seg.Len()},
			sim.WithName(fmt.Sprintf("wire/%d", i-1)),
			sim.WithPose(pose),
			sim.WithColor(colorWire[0], colorWire[1], colorWire[2]),
		)
		if err != nil {
			return err
		}
		t.wire = append(t.wire, e)
	}

	ring, err := t.entity(sim.ShapeMesh, sim.Kinematic, nil,
		sim.WithName("ring"),
		sim.WithMesh(sim.Torus(ringRadius, ringTube, 32, 12)),
		sim.WithPose(t.tools.Pose(0)),
		sim.WithColor(colorRing[0], colorRing[1], colorRing[2]),
	)
	if err != nil {
		return err
	}
	t.ring = ring

	endpoints := []struct {
		name  string
		at    mgl64.Vec3
		color [3]float64
	}{
		{"start", t.path[0], colorGreen},
		{"end", t.path[len(t.path)-1], colorRed},
	}
	for _, ep := range endpoints {
		if _, err := t.entity(sim.ShapeSphere, sim.NoPhysics, []float64{0.0015},
			sim.WithName(ep.name),
			sim.WithPose(geom.NewPose(ep.at, mgl64.QuatIdent())),
			sim.WithColor(ep.color[0], ep.color[1], ep.color[2]),
		); err != nil {
			return err
		}
	}

	t.desired, err = t.entity(sim.ShapeSphere, sim.NoPhysics, []float64{0.001},
		sim.WithName("desired"),
		sim.WithColor(colorDesired[0], colorDesired[1], colorDesired[2]),
	)
	if err != nil {
		return err
	}
	t.desired.Actor().SetVisible(false)

	for i := 0; i < HistoryLen; i++ {
		x := -0.045 + float64(i)*0.01
		s, err := t.entity(sim.ShapeSphere, sim.NoPhysics, []float64{0.002},
			sim.WithName(fmt.Sprintf("score/%d", i)),
			sim.WithPose(geom.Translation(x, -0.05, 0)),
			sim.WithColor(colorGray[0], colorGray[1], colorGray[2]),
		)
		if err != nil {
			return err
		}
		t.spheres = append(t.spheres, s)
	}

	if err := t.buildTools(); err != nil {
		return err
	}

	if _, err := t.visual("tube", "tube.obj", geom.Identity(), colorWire); err != nil {
		return err
	}
	_, err = t.visual("stand", "stand.obj", geom.Identity(), colorGray)
	return err
}

// buildTools adds a rod per tool, the grippers of the bimanual mode and the optional
// reference frames.
func (t *SteadyHand) buildTools() error {
	n := t.tools.Len()
	for i := 0; i < n; i++ {
		rod, err := t.entity(sim.ShapeCylinder, sim.NoPhysics, []float64{rodRadius, rodLength},
			sim.WithName(fmt.Sprintf("%s/rod", t.toolLabel(i))),
			sim.WithPose(rodPose(t.tools.Pose(i))),
			sim.WithColor(colorGray[0], colorGray[1], colorGray[2]),
		)
		if err != nil {
			return err
		}
		t.rods = append(t.rods, rod)
	}

	if n > 1 {
		for i := 0; i < n; i++ {
			g, err := sim.NewGripper(GripperLinkDims,
				sim.WithName(fmt.Sprintf("%s/gripper", t.toolLabel(i))),
				sim.WithPose(t.tools.Pose(i)),
				sim.WithLogger(t.log),
			)
			if err != nil {
				return err
			}
			if err := g.AddToWorld(t.world); err != nil {
				return err
			}
			for _, a := range g.Actors() {
				t.addActor(a)
			}
			t.grippers = append(t.grippers, g)
		}
		t.grasping = make([]bool, n)
	}

	if t.opts.ShowRefFrames {
		for i := 0; i < n; i++ {
			current := render.NewAxes(fmt.Sprintf("%s/current", t.toolLabel(i)), axesLength)
			desired := render.NewAxes(fmt.Sprintf("%s/desired", t.toolLabel(i)), axesLength)
			desired.SetVisible(false)
			t.addActor(current)
			t.addActor(desired)
			t.currentAxes = append(t.currentAxes, current)
			t.desiredAxes = append(t.desiredAxes, desired)
		}
	}
	return nil
}

// rodPose places a rod on the tool axis behind the gripper shaft
func rodPose(tool geom.Pose) geom.Pose {
	offset := geom.NewPose(
		mgl64.Vec3{0, 0, -(GripperLinkDims[0][2] + rodLength/2)},
		mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{1, 0, 0}),
	)
	return tool.Mul(offset)
}

// DesiredRingPose puts the ring centre on the closest wire point with the ring axis
// along the wire tangent, keeping the tangent direction nearest to the current axis.
func (t *SteadyHand) DesiredRingPose(ring geom.Pose) (geom.Pose, geom.PathPoint) {
	pp, ok := t.path.Closest(ring.Pos)
	if !ok {
		return ring, pp
	}
	tangent := pp.Tangent
	if ring.Rot.Rotate(mgl64.Vec3{0, 0, 1}).Dot(tangent) < 0 {
		tangent = tangent.Mul(-1)
	}
	return geom.NewPose(pp.Point, geom.AlignZ(ring.Rot, tangent)), pp
}

func (t *SteadyHand) StepControl(dt time.Duration) {
	if t.closed.Load() {
		return
	}
	if t.takeSceneReset() {
		t.resetScene()
	}

	bases := make([]geom.Pose, t.tools.Len())
	for i := range bases {
		bases[i] = t.tools.Pose(i)
	}
	for i, g := range t.grippers {
		g.SetPoseAndJawAngle(bases[i], JawAngle(t.tools.Grip(i)))
	}
	t.ring.SetKinematicFrame(bases[t.holder].Mul(t.toolToRing[t.holder]))
	t.stepWorld(dt)
	t.passRing(bases)

	ring := t.ring.Pose()
	desired, pp := t.DesiredRingPose(ring)
	axis := ring.Rot.Rotate(mgl64.Vec3{0, 0, 1})
	orientation := math.Acos(math.Min(1, math.Abs(axis.Dot(pp.Tangent))))
	touching := t.wireContact()

	start, end := t.path[0], t.path[len(t.path)-1]
	atStart := ring.Pos.Sub(start).Len() < endpointRadius
	if !atStart {
		t.armed = true
	}
	switch t.current() {
	case StateIdle, StateFinished:
		if atStart && t.armed {
			t.start()
		}
	case StateActive:
		t.activeTicks++
		t.sample(pp.Distance, orientation)
		if touching && !t.touching {
			t.fault()
		}
		if pp.Progress > 0.9 && ring.Pos.Sub(end).Len() < endpointRadius {
			stats, elapsed := t.stats()
			t.finish(SteadyHandScore(stats, elapsed))
		}
	}
	t.touching = touching

	// the holder is guided so that the ring it carries reaches the desired pose
	tool := bases[t.holder]
	desiredTool := desired.Mul(t.toolToRing[t.holder].Inverse())

	active := t.current() == StateActive
	params := t.inactiveAC()
	if active && t.opts.Guidance {
		s := t.softStart()
		params[t.holder] = ACParams{
			Tool:             t.holder,
			Active:           true,
			LinearStiffness:  shLinearStiffness * s,
			LinearDamping:    shLinearDamping,
			AngularStiffness: shAngularStiffness * s,
			AngularDamping:   shAngularDamping,
			MaxForce:         shMaxForce,
			MaxTorque:        shMaxTorque,
			PositionError:    vec(tool.PositionError(desiredTool)),
			OrientationError: vec(tool.OrientationError(desiredTool)),
		}
	}
	t.publishAC(params)

	t.dmu.Lock()
	t.display = steadyHandDisplay{
		desired:       desired,
		desiredTool:   desiredTool,
		tools:         bases,
		grasping:      append([]bool(nil), t.grasping...),
		holder:        t.holder,
		positionError: pp.Distance,
		touching:      touching,
		active:        active,
	}
	t.dmu.Unlock()
}

// resetScene gives the ring back to tool 0. A ring left at the start does not begin a
// repetition until it has been moved away.
func (t *SteadyHand) resetScene() {
	t.touching = false
	t.activeTicks = 0
	t.armed = false
	t.holder = 0
	for i := range t.toolToRing {
		t.toolToRing[i] = geom.Identity()
	}
}

// passRing hands the ring to another tool whose gripper grasps it once the holder has
// opened its jaw.
func (t *SteadyHand) passRing(bases []geom.Pose) {
	if len(t.grippers) == 0 {
		return
	}
	for i, g := range t.grippers {
		grasping := g.IsGraspingObject(t.world, t.ring.Body())
		if grasping != t.grasping[i] {
			t.graspChanged(i, grasping)
			t.grasping[i] = grasping
		}
	}
	if t.tools.Grip(t.holder) < releaseGrip {
		return
	}
	for i, grasping := range t.grasping {
		if i == t.holder || !grasping {
			continue
		}
		t.log.Debug("Ring handed over", log.Int("from", t.holder), log.Int("to", i))
		t.toolToRing[i] = bases[i].Inverse().Mul(t.ring.Pose())
		t.holder = i
		return
	}
}

func (t *SteadyHand) wireContact() bool {
	for _, w := range t.wire {
		if t.world.ContactPairTest(t.ring.Body(), w.Body(), 0, nil) > 0 {
			return true
		}
	}
	return false
}

// StepRender colours the ring by its tracking error, moves the desired pose marker, the
// tool rods and frames, and colours the score spheres by the score history.
func (t *SteadyHand) StepRender() {
	t.dmu.Lock()
	d := t.display
	t.dmu.Unlock()

	t.desired.Teleport(d.desired)
	t.desired.Actor().SetVisible(d.active)

	for i, p := range d.tools {
		t.rods[i].Teleport(rodPose(p))
		if len(t.currentAxes) > 0 {
			t.currentAxes[i].SetPose(p)
			if i == d.holder {
				t.desiredAxes[i].SetPose(d.desiredTool)
			}
			t.desiredAxes[i].SetVisible(d.active && i == d.holder)
		}
	}
	for i, g := range t.grippers {
		color := [3]float64{0.65, 0.7, 0.7}
		if i < len(d.grasping) && d.grasping[i] {
			color = colorGreen
		}
		for _, a := range g.Actors() {
			a.SetColor(color[0], color[1], color[2])
		}
	}

	color := colorRing
	switch {
	case d.touching:
		color = colorRed
	case d.active:
		color = ScoreColor(100 * (1 - d.positionError/ringRadius))
	}
	t.ring.Actor().SetColor(color[0], color[1], color[2])

	history := t.historyValues()
	for i, s := range t.spheres {
		c := colorGray
		if i < len(history) {
			c = ScoreColor(history[i])
		}
		s.Actor().SetColor(c[0], c[1], c[2])
	}
}

// Ring returns the ring entity
func (t *SteadyHand) Ring() *sim.Entity { return t.ring }

// Holder returns the index of the tool carrying the ring
func (t *SteadyHand) Holder() int {
	t.dmu.Lock()
	defer t.dmu.Unlock()
	return t.display.holder
}

// Path returns the wire
func (t *SteadyHand) Path() geom.Polyline { return append(geom.Polyline(nil), t.path...) }

// SteadyHandScore maps the errors of a repetition onto [0, 100]. Mean position error,
// mean orientation error, duration and wire touches each remove part of the score.
func SteadyHandScore(stats ErrorStats, elapsed time.Duration) float64 {
	position := clamp01(stats.MeanPosition() / ringRadius)
	orientation := clamp01(stats.MeanOrientation() / (math.Pi / 4))
	duration := clamp01(elapsed.Seconds() / steadyHandReference.Seconds())
	faults := clamp01(float64(stats.Faults) / maxFaultsPenalized)
	return 100 * (1 - 0.4*position - 0.3*orientation - 0.15*duration - 0.15*faults)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
