package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	DefaultFixedTimeStep = 1.0 / 240.0
	DefaultMaxSubSteps   = 8

	baumgarte       = 0.8
	softBaumgarte   = 0.2
	penetrationSlop = 0.005
	rollingResponse = 1000.0
	maxFriction     = 10.0
)

// WorldConfig tunes the integrator
type WorldConfig struct {
	Gravity       mgl64.Vec3
	FixedTimeStep float64
	MaxSubSteps   int
}

// World owns every body and constraint added to it. Bodies are addressed by handle;
// Close releases constraints first, then bodies, then their shapes.
type World struct {
	cfg         WorldConfig
	bodies      []*Body // index = handle-1, nil slots are free
	free        []BodyHandle
	constraints []Constraint
	accumulator float64
	steps       uint64
	closed      bool
}

// NewWorld creates an empty world
func NewWorld(cfg WorldConfig) *World {
	if cfg.FixedTimeStep <= 0 {
		cfg.FixedTimeStep = DefaultFixedTimeStep
	}
	if cfg.MaxSubSteps <= 0 {
		cfg.MaxSubSteps = DefaultMaxSubSteps
	}
	return &World{cfg: cfg}
}

func (w *World) Gravity() mgl64.Vec3 { return w.cfg.Gravity }

func (w *World) SetGravity(g mgl64.Vec3) { w.cfg.Gravity = g }

// Steps returns the number of fixed sub-steps simulated so far
func (w *World) Steps() uint64 { return w.steps }

// AddRigidBody transfers ownership of b to the world and returns its handle.
func (w *World) AddRigidBody(b *Body) (BodyHandle, error) {
	if w.closed {
		return 0, ErrWorldClosed
	}
	if b == nil {
		return 0, ErrNilBody
	}
	if b.handle != 0 {
		if existing, _ := w.Body(b.handle); existing == b {
			return 0, fmt.Errorf("%w: %s", ErrBodyAlreadyAdded, b.name)
		}
	}

	if n := len(w.free); n > 0 {
		h := w.free[n-1]
		w.free = w.free[:n-1]
		w.bodies[h-1] = b
		b.handle = h
		return h, nil
	}
	w.bodies = append(w.bodies, b)
	b.handle = BodyHandle(len(w.bodies))
	return b.handle, nil
}

// RemoveBody drops a body and every constraint that references it.
func (w *World) RemoveBody(h BodyHandle) error {
	b, err := w.Body(h)
	if err != nil {
		return err
	}
	kept := w.constraints[:0]
	for _, c := range w.constraints {
		if !references(c, b) {
			kept = append(kept, c)
		}
	}
	w.constraints = kept
	w.bodies[h-1] = nil
	w.free = append(w.free, h)
	b.handle = 0
	return nil
}

// Body resolves a handle
func (w *World) Body(h BodyHandle) (*Body, error) {
	if h == 0 || int(h) > len(w.bodies) || w.bodies[h-1] == nil {
		return nil, fmt.Errorf("%w: handle %d", ErrBodyNotInWorld, h)
	}
	return w.bodies[h-1], nil
}

// Bodies returns the live bodies in handle order
func (w *World) Bodies() []*Body {
	out := make([]*Body, 0, len(w.bodies))
	for _, b := range w.bodies {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// AddConstraint registers c; all of its bodies must already be in the world.
func (w *World) AddConstraint(c Constraint) error {
	if w.closed {
		return ErrWorldClosed
	}
	for _, b := range c.Bodies() {
		if existing, err := w.Body(b.handle); err != nil || existing != b {
			return fmt.Errorf("constraint body %q: %w", b.name, ErrBodyNotInWorld)
		}
	}
	w.constraints = append(w.constraints, c)
	return nil
}

func (w *World) Constraints() []Constraint {
	return append([]Constraint(nil), w.constraints...)
}

// Step advances the simulation by dt seconds using fixed sub-steps. Time that does not
// fill a whole sub-step is carried over; time beyond MaxSubSteps is dropped.
func (w *World) Step(dt float64) int {
	if w.closed || dt <= 0 {
		return 0
	}

	for _, b := range w.bodies {
		if b != nil && b.kinematic {
			b.syncKinematic(dt)
		}
	}

	w.accumulator += dt
	n := 0
	for w.accumulator >= w.cfg.FixedTimeStep && n < w.cfg.MaxSubSteps {
		w.subStep(w.cfg.FixedTimeStep)
		w.accumulator -= w.cfg.FixedTimeStep
		n++
	}
	if n == w.cfg.MaxSubSteps {
		w.accumulator = 0
	}

	for _, b := range w.bodies {
		if b != nil && b.IsDynamic() && b.motion != nil {
			b.motion.NotifyFromSimulation(b.transform)
		}
	}
	return n
}

func (w *World) subStep(dt float64) {
	for _, b := range w.bodies {
		if b != nil && b.IsDynamic() {
			b.previous = b.transform
			b.integrate(dt, w.cfg.Gravity)
		}
	}

	for i := 0; i < len(w.bodies); i++ {
		a := w.bodies[i]
		if a == nil {
			continue
		}
		for j := i + 1; j < len(w.bodies); j++ {
			b := w.bodies[j]
			if b == nil || (!a.IsDynamic() && !b.IsDynamic()) {
				continue
			}
			for _, pa := range proxies(a) {
				for _, pb := range proxies(b) {
					if normal, dist, ok := collide(pa, pb, 0); ok && dist < 0 {
						resolve(a, b, normal, -dist, dt)
					}
				}
			}
		}
	}

	for _, c := range w.constraints {
		c.solve(dt)
	}
	w.steps++
}

// ContactPairTest reports every contact between a and b whose distance is at most margin.
// Neither body has to be simulated; only their shapes and transforms are used.
func (w *World) ContactPairTest(a, b *Body, margin float64, fn func(Contact)) int {
	if a == nil || b == nil {
		return 0
	}
	found := 0
	for _, pa := range proxies(a) {
		for _, pb := range proxies(b) {
			normal, dist, ok := collide(pa, pb, margin)
			if !ok || dist > margin {
				continue
			}
			found++
			if fn != nil {
				fn(Contact{A: a, B: b, Normal: normal, Distance: dist})
			}
		}
	}
	return found
}

// Close releases every constraint and body. The world cannot be used afterwards.
func (w *World) Close() {
	w.constraints = nil
	for i, b := range w.bodies {
		if b != nil {
			b.handle = 0
			b.motion = nil
			b.shape = nil
		}
		w.bodies[i] = nil
	}
	w.bodies = nil
	w.free = nil
	w.closed = true
}

// resolve separates a penetrating pair and removes the approaching velocity.
func resolve(a, b *Body, normal mgl64.Vec3, depth, dt float64) {
	wa, wb := a.invMass, b.invMass
	if a.kinematic {
		wa = 0
	}
	if b.kinematic {
		wb = 0
	}
	total := wa + wb
	if total == 0 {
		return
	}

	beta := baumgarte
	if soft(a) || soft(b) {
		beta = softBaumgarte
	}
	if correction := math.Max(depth-penetrationSlop, 0) * beta; correction > 0 {
		a.shift(normal.Mul(-correction * wa / total))
		b.shift(normal.Mul(correction * wb / total))
	}

	rel := b.linVel.Sub(a.linVel)
	vn := rel.Dot(normal)
	if vn >= 0 {
		return
	}
	e := math.Max(a.restitution, b.restitution)
	if soft(a) || soft(b) {
		e = 0
	}
	jn := -(1 + e) * vn / total
	a.applyImpulse(normal.Mul(-jn))
	b.applyImpulse(normal.Mul(jn))

	tangent := rel.Sub(normal.Mul(vn))
	if vt := tangent.Len(); vt > 1e-9 {
		mu := math.Min(a.friction*b.friction, maxFriction)
		jt := math.Min(vt/total, mu*jn)
		dir := tangent.Mul(1 / vt)
		a.applyImpulse(dir.Mul(jt))
		b.applyImpulse(dir.Mul(-jt))
	}

	rolling := a.rollingFriction*b.friction + b.rollingFriction*a.friction
	spinning := a.spinningFriction*b.friction + b.spinningFriction*a.friction
	for _, body := range [2]*Body{a, b} {
		if !body.IsDynamic() {
			continue
		}
		spin := normal.Mul(body.angVel.Dot(normal))
		roll := body.angVel.Sub(spin)
		roll = roll.Mul(clamp01(1 - rolling*rollingResponse*dt))
		spin = spin.Mul(clamp01(1 - spinning*rollingResponse*dt))
		body.angVel = roll.Add(spin)
	}
}

func soft(b *Body) bool {
	return b.contactStiffness > 0 && b.contactDamping > 0
}

func references(c Constraint, b *Body) bool {
	for _, cb := range c.Bodies() {
		if cb == b {
			return true
		}
	}
	return false
}
