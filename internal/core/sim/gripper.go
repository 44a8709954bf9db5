package sim

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/systems/physics"
)

// GripperLinks is the number of links of a Gripper
const GripperLinks = 5

const (
	gripperFriction  = 50
	gripperStiffness = 2000
	gripperDamping   = 100
)

// Gripper is a five link jaw built from kinematic boxes. Link 0 is the shaft, links 1
// and 2 are the proximal jaws opening symmetrically about the local x axis and links 3
// and 4 are the distal jaw tips used for grasp detection.
type Gripper struct {
	dims  [GripperLinks][3]float64
	links [GripperLinks]*Entity
}

// NewGripper builds the links. dims holds the x, y, z lengths of every link. Options
// apply to all links; a name becomes the prefix of the link names.
func NewGripper(dims [GripperLinks][3]float64, opts ...Option) (*Gripper, error) {
	var o entityOptions
	for _, opt := range opts {
		opt(&o)
	}
	prefix := o.name
	if prefix == "" {
		prefix = "gripper"
	}

	g := &Gripper{dims: dims}
	for i := range g.links {
		linkOpts := append(append([]Option(nil), opts...),
			WithDensity(0),
			WithFriction(gripperFriction),
			WithName(fmt.Sprintf("%s/link%d", prefix, i)),
			WithColor(0.65, 0.7, 0.7),
		)
		link, err := NewEntity(ShapeBox, Kinematic, dims[i][:], linkOpts...)
		if err != nil {
			return nil, fmt.Errorf("gripper link %d: %w", i, err)
		}
		link.Body().SetContactStiffnessAndDamping(gripperStiffness, gripperDamping)
		g.links[i] = link
	}
	return g, nil
}

// LinkPoses maps a base pose and a jaw angle onto the pose of every link.
func (g *Gripper) LinkPoses(base geom.Pose, angle float64) [GripperLinks]geom.Pose {
	var out [GripperLinks]geom.Pose
	half := func(i int) mgl64.Vec3 { return mgl64.Vec3{0, 0, g.dims[i][2] / 2} }

	out[0] = geom.NewPose(base.Apply(half(0).Mul(-1)), base.Rot)

	jaw1 := base.RotX(-angle)
	out[1] = geom.NewPose(jaw1.Apply(half(1)), jaw1.Rot)

	jaw2 := base.RotX(angle)
	out[2] = geom.NewPose(jaw2.Apply(half(2)), jaw2.Rot)

	// the tips start at the far end of the proximal jaws and keep the base orientation
	for i := 3; i < GripperLinks; i++ {
		end := out[i-2].Apply(half(i - 2))
		out[i] = geom.NewPose(end.Add(base.Rot.Rotate(half(i))), base.Rot)
	}
	return out
}

// SetPoseAndJawAngle moves every link. Identical arguments give identical link poses.
func (g *Gripper) SetPoseAndJawAngle(base geom.Pose, angle float64) {
	for i, p := range g.LinkPoses(base, angle) {
		g.links[i].SetKinematicFrame(p)
	}
}

// IsGraspingObject reports whether both jaw tips touch target. There is no debounce;
// the result can flip from one tick to the next at the contact boundary.
func (g *Gripper) IsGraspingObject(world *physics.World, target *physics.Body) bool {
	tip1 := world.ContactPairTest(g.links[3].Body(), target, ContactMargin, nil) > 0
	tip2 := world.ContactPairTest(g.links[4].Body(), target, ContactMargin, nil) > 0
	return tip1 && tip2
}

// AddToWorld hands the link bodies over to world
func (g *Gripper) AddToWorld(world *physics.World) error {
	for i, l := range g.links {
		if _, err := world.AddRigidBody(l.Body()); err != nil {
			return fmt.Errorf("gripper link %d: %w", i, err)
		}
	}
	return nil
}

func (g *Gripper) Actors() []*render.Actor {
	out := make([]*render.Actor, 0, GripperLinks)
	for _, l := range g.links {
		out = append(out, l.Actor())
	}
	return out
}

func (g *Gripper) Links() [GripperLinks]*Entity {
	return g.links
}
