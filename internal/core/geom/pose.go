package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ArrayLen is the length of the flat pose representation x,y,z,qx,qy,qz,qw.
const ArrayLen = 7

// Pose is a rigid transform: a rotation followed by a translation.
// The rotation is carried as a quaternion and is never renormalized by Pose itself.
type Pose struct {
	Pos mgl64.Vec3
	Rot mgl64.Quat
}

// Identity returns the identity transform
func Identity() Pose {
	return Pose{Rot: mgl64.QuatIdent()}
}

// NewPose builds a pose from a translation and a rotation
func NewPose(pos mgl64.Vec3, rot mgl64.Quat) Pose {
	return Pose{Pos: pos, Rot: rot}
}

// Translation returns a pure translation
func Translation(x, y, z float64) Pose {
	return Pose{Pos: mgl64.Vec3{x, y, z}, Rot: mgl64.QuatIdent()}
}

// FromArray converts the 7-scalar form (x,y,z,qx,qy,qz,qw) into a Pose.
func FromArray(a [ArrayLen]float64) Pose {
	return Pose{
		Pos: mgl64.Vec3{a[0], a[1], a[2]},
		Rot: mgl64.Quat{W: a[6], V: mgl64.Vec3{a[3], a[4], a[5]}},
	}
}

// FromSlice is FromArray for slices coming from config or the wire.
func FromSlice(s []float64) (Pose, error) {
	if len(s) != ArrayLen {
		return Pose{}, fmt.Errorf("pose needs %d values, got %d", ArrayLen, len(s))
	}
	var a [ArrayLen]float64
	copy(a[:], s)
	return FromArray(a), nil
}

// Array returns the 7-scalar form (x,y,z,qx,qy,qz,qw).
func (p Pose) Array() [ArrayLen]float64 {
	return [ArrayLen]float64{p.Pos[0], p.Pos[1], p.Pos[2], p.Rot.V[0], p.Rot.V[1], p.Rot.V[2], p.Rot.W}
}

// Mul composes two transforms: the result maps a point through o first, then p.
func (p Pose) Mul(o Pose) Pose {
	return Pose{
		Pos: p.Pos.Add(p.Rot.Rotate(o.Pos)),
		Rot: p.Rot.Mul(o.Rot),
	}
}

// Inverse returns the transform that undoes p
func (p Pose) Inverse() Pose {
	inv := p.Rot.Inverse()
	return Pose{
		Pos: inv.Rotate(p.Pos).Mul(-1),
		Rot: inv,
	}
}

// Apply transforms a point
func (p Pose) Apply(point mgl64.Vec3) mgl64.Vec3 {
	return p.Pos.Add(p.Rot.Rotate(point))
}

// ApplyVector rotates a free vector (translation is ignored)
func (p Pose) ApplyVector(v mgl64.Vec3) mgl64.Vec3 {
	return p.Rot.Rotate(v)
}

// RotX rotates the pose about its own x-axis by angle radians.
func (p Pose) RotX(angle float64) Pose {
	return Pose{
		Pos: p.Pos,
		Rot: p.Rot.Mul(mgl64.QuatRotate(angle, mgl64.Vec3{1, 0, 0})),
	}
}

// Scaled multiplies the translation by s and keeps the rotation.
func (p Pose) Scaled(s float64) Pose {
	return Pose{Pos: p.Pos.Mul(s), Rot: p.Rot}
}

// Mat4 returns the homogeneous 4x4 matrix of the transform
func (p Pose) Mat4() mgl64.Mat4 {
	return mgl64.Translate3D(p.Pos[0], p.Pos[1], p.Pos[2]).Mul4(p.Rot.Mat4())
}

// FromMat4 extracts a pose from a rigid homogeneous matrix
func FromMat4(m mgl64.Mat4) Pose {
	return Pose{
		Pos: mgl64.Vec3{m.At(0, 3), m.At(1, 3), m.At(2, 3)},
		Rot: mgl64.Mat4ToQuat(m),
	}
}

// ApproxEqual reports whether the positions are within eps of each other and the
// rotations differ by at most eps in 1-|q·q'|. q and -q are the same rotation.
func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	if p.Pos.Sub(o.Pos).Len() > eps {
		return false
	}
	return 1-math.Abs(p.Rot.Dot(o.Rot)) <= eps
}

// PositionError returns target.Pos - p.Pos
func (p Pose) PositionError(target Pose) mgl64.Vec3 {
	return target.Pos.Sub(p.Pos)
}

// OrientationError returns the rotation vector (axis * angle) taking p onto target,
// expressed in the world frame.
func (p Pose) OrientationError(target Pose) mgl64.Vec3 {
	d := target.Rot.Mul(p.Rot.Inverse()).Normalize()
	if d.W < 0 {
		d = d.Scale(-1)
	}
	sinHalf := d.V.Len()
	if sinHalf < 1e-12 {
		return mgl64.Vec3{}
	}
	angle := 2 * math.Atan2(sinHalf, d.W)
	return d.V.Mul(angle / sinHalf)
}

// String implements fmt.Stringer
func (p Pose) String() string {
	a := p.Array()
	return fmt.Sprintf("[%.4f %.4f %.4f | %.4f %.4f %.4f %.4f]", a[0], a[1], a[2], a[3], a[4], a[5], a[6])
}
