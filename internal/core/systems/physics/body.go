package physics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/atar/internal/core/geom"
)

// MotionState links a body to whoever mirrors its transform outside the world.
// The world reads kinematic bodies through ReadWorldTransform before stepping and
// reports dynamic bodies through NotifyFromSimulation after stepping.
type MotionState interface {
	ReadWorldTransform() geom.Pose
	NotifyFromSimulation(transform geom.Pose)
}

// BodyHandle indexes a body inside its World arena. The zero handle is invalid.
type BodyHandle uint32

// BodyConfig holds construction parameters of a rigid body
type BodyConfig struct {
	Name             string
	Mass             float64
	Kinematic        bool
	Transform        geom.Pose
	Friction         float64
	RollingFriction  float64
	SpinningFriction float64
	Restitution      float64
	LinearDamping    float64
	AngularDamping   float64
	// ContactStiffness and ContactDamping soften contacts when both are positive.
	ContactStiffness float64
	ContactDamping   float64
	MotionState      MotionState
}

// Body is a rigid body. Kinematic bodies always have zero mass; a non-kinematic body
// with zero mass is static.
type Body struct {
	handle BodyHandle
	name   string
	shape  Shape

	transform geom.Pose
	previous  geom.Pose

	mass       float64
	invMass    float64
	invInertia mgl64.Vec3
	kinematic  bool

	linVel mgl64.Vec3
	angVel mgl64.Vec3

	friction         float64
	rollingFriction  float64
	spinningFriction float64
	restitution      float64
	linearDamping    float64
	angularDamping   float64
	contactStiffness float64
	contactDamping   float64

	motion MotionState
}

// NewBody builds a body that is not yet part of any world.
func NewBody(shape Shape, cfg BodyConfig) *Body {
	b := &Body{
		name:             cfg.Name,
		shape:            shape,
		transform:        cfg.Transform,
		previous:         cfg.Transform,
		kinematic:        cfg.Kinematic,
		friction:         cfg.Friction,
		rollingFriction:  cfg.RollingFriction,
		spinningFriction: cfg.SpinningFriction,
		restitution:      cfg.Restitution,
		linearDamping:    cfg.LinearDamping,
		angularDamping:   cfg.AngularDamping,
		contactStiffness: cfg.ContactStiffness,
		contactDamping:   cfg.ContactDamping,
		motion:           cfg.MotionState,
	}
	if b.transform.Rot == (mgl64.Quat{}) {
		b.transform.Rot = mgl64.QuatIdent()
		b.previous = b.transform
	}
	if cfg.MotionState != nil {
		b.transform = cfg.MotionState.ReadWorldTransform()
		b.previous = b.transform
	}

	mass := cfg.Mass
	if cfg.Kinematic || shape.Kind() == KindPlane || mass < 0 {
		mass = 0
	}
	b.mass = mass
	if mass > 0 {
		b.invMass = 1 / mass
		inertia := shape.LocalInertia(mass)
		for i := 0; i < 3; i++ {
			if inertia[i] > 0 {
				b.invInertia[i] = 1 / inertia[i]
			}
		}
	}
	return b
}

func (b *Body) Handle() BodyHandle          { return b.handle }
func (b *Body) Name() string                { return b.name }
func (b *Body) Shape() Shape                { return b.shape }
func (b *Body) Mass() float64               { return b.mass }
func (b *Body) InverseMass() float64        { return b.invMass }
func (b *Body) IsKinematic() bool           { return b.kinematic }
func (b *Body) IsStatic() bool              { return !b.kinematic && b.mass == 0 }
func (b *Body) IsDynamic() bool             { return !b.kinematic && b.mass > 0 }
func (b *Body) Transform() geom.Pose        { return b.transform }
func (b *Body) LinearVelocity() mgl64.Vec3  { return b.linVel }
func (b *Body) AngularVelocity() mgl64.Vec3 { return b.angVel }
func (b *Body) Friction() float64           { return b.friction }
func (b *Body) RollingFriction() float64    { return b.rollingFriction }
func (b *Body) SpinningFriction() float64   { return b.spinningFriction }

// ContactStiffnessAndDamping returns the soft-contact parameters
func (b *Body) ContactStiffnessAndDamping() (float64, float64) {
	return b.contactStiffness, b.contactDamping
}

// SetContactStiffnessAndDamping turns on soft contacts for this body
func (b *Body) SetContactStiffnessAndDamping(stiffness, damping float64) {
	b.contactStiffness = stiffness
	b.contactDamping = damping
}

// SetLinearVelocity is ignored for non-dynamic bodies
func (b *Body) SetLinearVelocity(v mgl64.Vec3) {
	if b.IsDynamic() {
		b.linVel = v
	}
}

// SetAngularVelocity is ignored for non-dynamic bodies
func (b *Body) SetAngularVelocity(w mgl64.Vec3) {
	if b.IsDynamic() {
		b.angVel = w
	}
}

// Teleport places the body and clears its velocities.
func (b *Body) Teleport(t geom.Pose) {
	b.transform = t
	b.previous = t
	b.linVel = mgl64.Vec3{}
	b.angVel = mgl64.Vec3{}
	if b.motion != nil && !b.kinematic {
		b.motion.NotifyFromSimulation(t)
	}
}

// integrate advances a dynamic body by dt under gravity.
func (b *Body) integrate(dt float64, gravity mgl64.Vec3) {
	b.linVel = b.linVel.Add(gravity.Mul(dt))
	if b.linearDamping > 0 {
		b.linVel = b.linVel.Mul(clamp01(1 - b.linearDamping*dt))
	}
	if b.angularDamping > 0 {
		b.angVel = b.angVel.Mul(clamp01(1 - b.angularDamping*dt))
	}

	b.transform.Pos = b.transform.Pos.Add(b.linVel.Mul(dt))

	w := mgl64.Quat{W: 0, V: b.angVel}
	q := b.transform.Rot
	dq := w.Mul(q).Scale(0.5 * dt)
	b.transform.Rot = q.Add(dq).Normalize()
}

// syncKinematic pulls the externally driven transform and derives a velocity from it.
func (b *Body) syncKinematic(dt float64) {
	if b.motion == nil {
		return
	}
	b.previous = b.transform
	b.transform = b.motion.ReadWorldTransform()
	if dt > 0 {
		b.linVel = b.transform.Pos.Sub(b.previous.Pos).Mul(1 / dt)
	}
}

// applyImpulse changes the linear velocity of a dynamic body
func (b *Body) applyImpulse(j mgl64.Vec3) {
	if b.invMass == 0 || b.kinematic {
		return
	}
	b.linVel = b.linVel.Add(j.Mul(b.invMass))
}

func (b *Body) shift(d mgl64.Vec3) {
	b.transform.Pos = b.transform.Pos.Add(d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
