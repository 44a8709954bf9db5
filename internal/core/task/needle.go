package task

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/sim"
)

const NameNeedle = "needle"

const (
	needleLength  = 0.02
	needleRadius  = 0.0005
	needleDensity = 7800

	targetRadius = 0.005
	targetTube   = 0.0006

	// maxJawAngle is the jaw angle of a fully open grip
	maxJawAngle = 0.6

	needleReference   = 60 * time.Second
	maxDropsPenalized = 5

	ndLinearStiffness = 100
	ndLinearDamping   = 4
	ndMaxForce        = 3
)

// GripperLinkDims are the x, y, z lengths of the gripper links, shaft first.
var GripperLinkDims = [sim.GripperLinks][3]float64{
	{0.002, 0.002, 0.01},
	{0.001, 0.001, 0.006},
	{0.001, 0.001, 0.006},
	{0.001, 0.001, 0.004},
	{0.001, 0.001, 0.004},
}

var (
	boardDims    = [3]float64{0.1, 0.07, 0.004}
	targetCenter = mgl64.Vec3{0.03, 0, 0.012}
	// the ring axis points along x
	targetPose = geom.NewPose(targetCenter, mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0}))
	// the needle lies on the board along x
	needleStart = geom.NewPose(mgl64.Vec3{-0.02, 0, needleRadius}, mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}))

	colorBoard  = [3]float64{0.45, 0.35, 0.25}
	colorNeedle = [3]float64{0.8, 0.8, 0.85}
)

// Needle is the needle and ring task: one gripper per tool picks a needle up from the
// board and passes it through a standing ring. A repetition starts with the first grasp
// and finishes when a needle tip crosses the ring plane inside the ring.
type Needle struct {
	*core

	grippers []*sim.Gripper
	needle   *sim.Entity
	target   *sim.Entity
	board    *sim.Entity
	// mesh is the optional visual needle drawn at the pose of the simulated one
	mesh *sim.Entity

	dmu        sync.Mutex
	grasping   []bool
	needlePose geom.Pose

	// control goroutine only
	holder   int
	offset   geom.Pose
	lastSide [2]float64
	haveSide bool
}

func NewNeedle(deps Deps) (*Needle, error) {
	c, err := newCore(NameNeedle, deps, [3]string{"idle", "active", "finished"})
	if err != nil {
		return nil, err
	}
	t := &Needle{core: c, holder: -1, needlePose: needleStart}
	if err := t.build(); err != nil {
		c.Close()
		return nil, fmt.Errorf("build %s: %w", NameNeedle, err)
	}
	t.publishAC(t.inactiveAC())
	c.log.Info("Task ready", log.Int("grippers", len(t.grippers)), log.Bool("guidance", deps.Options.Guidance))
	return t, nil
}

func (t *Needle) build() error {
	var err error
	t.board, err = t.entity(sim.ShapeBox, sim.Dynamic, boardDims[:],
		sim.WithName("board"),
		sim.WithPose(geom.Translation(0, 0, -boardDims[2]/2)),
		sim.WithFriction(0.5),
		sim.WithColor(colorBoard[0], colorBoard[1], colorBoard[2]),
	)
	if err != nil {
		return err
	}

	t.target, err = t.entity(sim.ShapeMesh, sim.Dynamic, nil,
		sim.WithName("ring"),
		sim.WithMesh(sim.Torus(targetRadius, targetTube, 32, 12)),
		sim.WithPose(targetPose),
		sim.WithColor(colorRing[0], colorRing[1], colorRing[2]),
	)
	if err != nil {
		return err
	}

	postHeight := targetCenter[2] - targetRadius - targetTube
	if _, err := t.entity(sim.ShapeBox, sim.NoPhysics, []float64{0.002, 0.002, postHeight},
		sim.WithName("ring/post"),
		sim.WithPose(geom.Translation(targetCenter[0], targetCenter[1], postHeight/2)),
		sim.WithColor(colorGray[0], colorGray[1], colorGray[2]),
	); err != nil {
		return err
	}

	t.needle, err = t.entity(sim.ShapeCylinder, sim.Dynamic, []float64{needleRadius, needleLength},
		sim.WithName("needle"),
		sim.WithPose(needleStart),
		sim.WithDensity(needleDensity),
		sim.WithFriction(0.5),
		sim.WithColor(colorNeedle[0], colorNeedle[1], colorNeedle[2]),
	)
	if err != nil {
		return err
	}

	for i := 0; i < t.tools.Len(); i++ {
		g, err := sim.NewGripper(GripperLinkDims,
			sim.WithName(fmt.Sprintf("gripper%d", i)),
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
	t.grasping = make([]bool, len(t.grippers))

	t.mesh, err = t.visual("needle/mesh", "needle.obj", needleStart, colorNeedle)
	return err
}

// JawAngle maps a grip value onto a jaw angle: 0 is closed, 1 or more is fully open.
func JawAngle(grip float64) float64 {
	return clamp01(grip) * maxJawAngle
}

func (t *Needle) StepControl(dt time.Duration) {
	if t.closed.Load() {
		return
	}
	if t.takeSceneReset() {
		t.resetScene()
	}

	bases := make([]geom.Pose, len(t.grippers))
	for i, g := range t.grippers {
		bases[i] = t.tools.Pose(i)
		g.SetPoseAndJawAngle(bases[i], JawAngle(t.tools.Grip(i)))
	}
	t.stepWorld(dt)

	grasping := make([]bool, len(t.grippers))
	for i, g := range t.grippers {
		grasping[i] = g.IsGraspingObject(t.world, t.needle.Body())
	}
	t.dmu.Lock()
	for i := range grasping {
		if grasping[i] != t.grasping[i] {
			t.graspChanged(i, grasping[i])
		}
	}
	copy(t.grasping, grasping)
	t.dmu.Unlock()

	if t.holder >= 0 && !grasping[t.holder] {
		t.log.Debug("Needle dropped", log.Int("tool", t.holder))
		t.fault()
		t.holder = -1
	}
	if t.holder < 0 {
		for i, g := range grasping {
			if g {
				t.holder = i
				t.offset = bases[i].Inverse().Mul(t.needle.Pose())
				break
			}
		}
	}
	if t.holder >= 0 {
		t.needle.Teleport(bases[t.holder].Mul(t.offset))
	}

	needle := t.needle.Pose()
	t.dmu.Lock()
	t.needlePose = needle
	t.dmu.Unlock()
	tips := needleTips(needle)
	switch t.current() {
	case StateIdle:
		if t.holder >= 0 && t.start() {
			t.haveSide = false
		}
	case StateActive:
		t.activeTicks++
		lead := t.leadingTip(tips, bases)
		t.sample(tips[lead].Sub(targetCenter).Len(), 0)
		if t.crossed(tips) {
			stats, elapsed := t.stats()
			t.finish(NeedleScore(stats, elapsed))
		}
	}

	params := t.inactiveAC()
	if t.holder >= 0 && t.opts.Guidance && t.current() == StateActive {
		s := t.softStart()
		lead := t.leadingTip(tips, bases)
		params[t.holder] = ACParams{
			Tool:            t.holder,
			Active:          true,
			LinearStiffness: ndLinearStiffness * s,
			LinearDamping:   ndLinearDamping,
			MaxForce:        ndMaxForce,
			PositionError:   vec(targetCenter.Sub(tips[lead])),
		}
	}
	t.publishAC(params)
}

// needleTips returns both ends of the needle
func needleTips(needle geom.Pose) [2]mgl64.Vec3 {
	half := mgl64.Vec3{0, needleLength / 2, 0}
	return [2]mgl64.Vec3{needle.Apply(half), needle.Apply(half.Mul(-1))}
}

// leadingTip is the tip farthest from the gripper holding the needle
func (t *Needle) leadingTip(tips [2]mgl64.Vec3, bases []geom.Pose) int {
	if t.holder < 0 {
		return 0
	}
	base := bases[t.holder].Pos
	if tips[1].Sub(base).Len() > tips[0].Sub(base).Len() {
		return 1
	}
	return 0
}

// crossed reports whether a tip moved from one side of the ring plane to the other
// while inside the ring.
func (t *Needle) crossed(tips [2]mgl64.Vec3) bool {
	axis := targetPose.ApplyVector(mgl64.Vec3{0, 0, 1})
	var sides [2]float64
	hit := false
	for i, tip := range tips {
		rel := tip.Sub(targetCenter)
		sides[i] = rel.Dot(axis)
		radial := rel.Sub(axis.Mul(sides[i])).Len()
		if t.haveSide && radial < targetRadius-targetTube && math.Signbit(sides[i]) != math.Signbit(t.lastSide[i]) {
			hit = true
		}
	}
	t.lastSide = sides
	t.haveSide = true
	return hit
}

func (t *Needle) resetScene() {
	t.holder = -1
	t.haveSide = false
	t.activeTicks = 0
	t.needle.Teleport(needleStart)
	t.log.Debug("Needle put back on the board")
}

// StepRender highlights the grippers that hold the needle and moves the needle mesh.
func (t *Needle) StepRender() {
	t.dmu.Lock()
	grasping := append([]bool(nil), t.grasping...)
	needle := t.needlePose
	t.dmu.Unlock()

	if t.mesh != nil {
		t.mesh.Teleport(needle)
	}

	for i, g := range t.grippers {
		color := [3]float64{0.65, 0.7, 0.7}
		if grasping[i] {
			color = colorGreen
		}
		for _, a := range g.Actors() {
			a.SetColor(color[0], color[1], color[2])
		}
	}
}

// Grasping reports which grippers hold the needle
func (t *Needle) Grasping() []bool {
	t.dmu.Lock()
	defer t.dmu.Unlock()
	return append([]bool(nil), t.grasping...)
}

func (t *Needle) NeedleEntity() *sim.Entity { return t.needle }

// NeedleScore maps the duration and the number of drops of a repetition onto [0, 100].
func NeedleScore(stats ErrorStats, elapsed time.Duration) float64 {
	duration := clamp01(elapsed.Seconds() / needleReference.Seconds())
	drops := clamp01(float64(stats.Faults) / maxDropsPenalized)
	return 100 * (1 - 0.6*duration - 0.4*drops)
}
