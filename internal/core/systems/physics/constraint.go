package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Constraint restricts the motion of one or more bodies after contacts are resolved.
type Constraint interface {
	Bodies() []*Body
	solve(dt float64)
}

// HingeConstraint pins a body to a fixed world pivot and lets it rotate about one axis only.
type HingeConstraint struct {
	Body        *Body
	PivotInBody mgl64.Vec3
	AxisInBody  mgl64.Vec3
	PivotWorld  mgl64.Vec3
	AxisWorld   mgl64.Vec3

	rest mgl64.Quat
}

// NewHinge builds a hinge from the body's current transform so that it starts satisfied.
func NewHinge(body *Body, pivotInBody, axisInBody mgl64.Vec3) *HingeConstraint {
	axisInBody = axisInBody.Normalize()
	t := body.Transform()
	return &HingeConstraint{
		Body:        body,
		PivotInBody: pivotInBody,
		AxisInBody:  axisInBody,
		PivotWorld:  t.Apply(pivotInBody),
		AxisWorld:   t.ApplyVector(axisInBody).Normalize(),
		rest:        t.Rot,
	}
}

func (h *HingeConstraint) Bodies() []*Body {
	return []*Body{h.Body}
}

// Angle returns the signed rotation about the hinge axis since the hinge was created.
func (h *HingeConstraint) Angle() float64 {
	q := h.Body.transform.Rot.Mul(h.rest.Inverse())
	return 2 * math.Atan2(q.V.Dot(h.AxisWorld), q.W)
}

func (h *HingeConstraint) solve(_ float64) {
	b := h.Body
	if !b.IsDynamic() {
		return
	}

	axis := b.transform.ApplyVector(h.AxisInBody)
	if axis.LenSqr() > 1e-18 {
		align := mgl64.QuatBetweenVectors(axis.Normalize(), h.AxisWorld)
		b.transform.Rot = align.Mul(b.transform.Rot).Normalize()
	}

	pivot := b.transform.Apply(h.PivotInBody)
	b.shift(h.PivotWorld.Sub(pivot))

	b.angVel = h.AxisWorld.Mul(b.angVel.Dot(h.AxisWorld))
	r := h.PivotWorld.Sub(b.transform.Pos)
	// the pivot point must not move: v + w x (pivot - pos) = 0
	b.linVel = b.angVel.Cross(r).Mul(-1)
}
