package sim

import (
	"sync"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/render"
)

// DimScale multiplies every length handed to the physics world. Millimetre-sized
// objects are unstable in the solver at their real size.
const DimScale = 100.0

// ContactMargin is the distance, in physics units, under which two shapes count as touching.
const ContactMargin = 0.001 * DimScale

// PoseBridge keeps a physics transform and an actor's display transform in step.
// The physics side always sees scaled units, callers and the actor see real units.
// Rotations are passed through as given; callers must supply unit quaternions.
type PoseBridge struct {
	mu        sync.RWMutex
	transform geom.Pose
	pose      geom.Pose
	actor     *render.Actor
}

// NewPoseBridge starts the bridge at initial, given in real-world units
func NewPoseBridge(initial geom.Pose, actor *render.Actor) *PoseBridge {
	b := &PoseBridge{actor: actor}
	b.store(initial.Scaled(DimScale))
	return b
}

// ReadWorldTransform returns the last stored transform in physics units.
func (b *PoseBridge) ReadWorldTransform() geom.Pose {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transform
}

// NotifyFromSimulation is called by the world after it moved a dynamic body.
func (b *PoseBridge) NotifyFromSimulation(transform geom.Pose) {
	b.store(transform)
}

// SetKinematicPose is called by the owning entity before a step; transform is in physics units.
func (b *PoseBridge) SetKinematicPose(transform geom.Pose) {
	b.store(transform)
}

// Pose returns the last stored transform in real-world units
func (b *PoseBridge) Pose() geom.Pose {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pose
}

func (b *PoseBridge) Actor() *render.Actor {
	return b.actor
}

func (b *PoseBridge) store(transform geom.Pose) {
	pose := transform.Scaled(1 / DimScale)
	b.mu.Lock()
	b.transform = transform
	b.pose = pose
	b.mu.Unlock()
	if b.actor != nil {
		b.actor.SetPose(pose)
	}
}
