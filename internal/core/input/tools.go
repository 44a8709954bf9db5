package input

import (
	"fmt"
	"time"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/syncv2/vars"
)

// MaxTools is the number of tools a task can be driven by
const MaxTools = 2

// ToolState is the latest input of one tool, in task space.
type ToolState struct {
	Pose geom.Pose
	// Raw is the last pose as reported by the tool, before ToWorld
	Raw  geom.Pose
	Grip float64
	// Seq counts the updates received for this tool
	Seq uint64
	At  time.Time

	toWorld geom.Pose
}

// ToolConfig describes one tracked tool
type ToolConfig struct {
	Name string
	// ToWorld maps poses reported by the tool into task space.
	ToWorld geom.Pose
}

// Handlers are the write side of one tool, called by whoever receives tracking data.
type Handlers struct {
	SetPose func(geom.Pose)
	SetGrip func(float64)
}

// Tools holds the input of every tool. Writers and the control loop never share a
// lock: every update publishes a fresh ToolState snapshot.
type Tools struct {
	log      log.Log
	configs  []ToolConfig
	states   []*vars.Snapshot[ToolState]
	handlers []Handlers
}

// New registers tools in index order
func New(logger log.Log, tools ...ToolConfig) (*Tools, error) {
	if len(tools) == 0 || len(tools) > MaxTools {
		return nil, fmt.Errorf("%w: %d tools, want 1..%d", ErrInvalidTool, len(tools), MaxTools)
	}
	t := &Tools{
		log:      logger.With(log.String("component", "input")),
		configs:  make([]ToolConfig, len(tools)),
		states:   make([]*vars.Snapshot[ToolState], len(tools)),
		handlers: make([]Handlers, len(tools)),
	}
	for i, cfg := range tools {
		if cfg.ToWorld.Rot.Len() == 0 {
			cfg.ToWorld = geom.Identity()
		}
		t.configs[i] = cfg
		t.states[i] = vars.NewSnapshot(ToolState{Pose: geom.Identity(), Raw: geom.Identity(), toWorld: cfg.ToWorld})
		t.handlers[i] = t.bind(i)
	}
	return t, nil
}

func (t *Tools) bind(i int) Handlers {
	state := t.states[i]
	return Handlers{
		SetPose: func(p geom.Pose) {
			now := time.Now()
			state.Update(func(cur ToolState) (ToolState, bool) {
				cur.Raw = p
				cur.Pose = cur.toWorld.Mul(p)
				cur.Seq++
				cur.At = now
				return cur, true
			})
		},
		SetGrip: func(g float64) {
			now := time.Now()
			state.Update(func(cur ToolState) (ToolState, bool) {
				cur.Grip = g
				cur.Seq++
				cur.At = now
				return cur, true
			})
		},
	}
}

// Len returns the number of tools
func (t *Tools) Len() int { return len(t.configs) }

func (t *Tools) Name(i int) string {
	if i < 0 || i >= len(t.configs) {
		return ""
	}
	return t.configs[i].Name
}

// Handlers returns the write side of tool i
func (t *Tools) Handlers(i int) (Handlers, error) {
	if i < 0 || i >= len(t.handlers) {
		return Handlers{}, fmt.Errorf("%w: index %d", ErrInvalidTool, i)
	}
	return t.handlers[i], nil
}

// Index resolves a tool name
func (t *Tools) Index(name string) (int, error) {
	for i, cfg := range t.configs {
		if cfg.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrInvalidTool, name)
}

// State returns the latest input of tool i. Unknown tools read as an identity pose
// with a closed gripper.
func (t *Tools) State(i int) ToolState {
	if i < 0 || i >= len(t.states) {
		t.log.Debug("Read of unknown tool", log.Int("tool", i))
		return ToolState{Pose: geom.Identity()}
	}
	return t.states[i].Get()
}

func (t *Tools) Pose(i int) geom.Pose { return t.State(i).Pose }
func (t *Tools) Grip(i int) float64   { return t.State(i).Grip }

// ToWorld returns the transform currently applied to the poses of tool i
func (t *Tools) ToWorld(i int) geom.Pose {
	if i < 0 || i >= len(t.states) {
		return geom.Identity()
	}
	return t.states[i].Get().toWorld
}

// Calibrate replaces the task space transform of tool i so that the last reported
// pose maps onto known, the pose of the landmark the tool is held at. Later poses go
// through the new transform. A tool that has not reported yet calibrates against
// the identity.
func (t *Tools) Calibrate(i int, known geom.Pose) error {
	if i < 0 || i >= len(t.states) {
		return fmt.Errorf("%w: index %d", ErrInvalidTool, i)
	}
	var toWorld geom.Pose
	t.states[i].Update(func(cur ToolState) (ToolState, bool) {
		cur.toWorld = known.Mul(cur.Raw.Inverse())
		cur.Pose = known
		toWorld = cur.toWorld
		return cur, true
	})
	arr := toWorld.Array()
	t.log.Info("Tool calibrated", log.String("tool", t.configs[i].Name), log.Float64s("to_world", arr[:]))
	return nil
}
