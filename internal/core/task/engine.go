package task

import (
	"fmt"
	"math"
	"time"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/sim"
)

// Engine is one training task. StepControl runs on the control goroutine; StepRender,
// State, Actors and the AC parameter accessors may be called from any goroutine.
type Engine interface {
	Name() string
	// StepControl reads the tools, steps the physics world by dt and evaluates the task.
	StepControl(dt time.Duration)
	// StepRender refreshes the visual elements that physics does not keep in sync.
	StepRender()
	State() StateRecord
	// Actors returns every actor of the task. The list is fixed at construction.
	Actors() []*render.Actor
	ACParamsChanged() bool
	// ACParams returns the latest guidance parameters, one per tool, and clears the
	// changed flag.
	ACParams() []ACParams
	// Reset returns to Idle with no repetitions and an empty score history.
	Reset()
	// ResetAcquisition voids the current or last attempt.
	ResetAcquisition()
	Close()
}

// ToolSource supplies the latest pose and grip of every tool in task space.
type ToolSource interface {
	Len() int
	Pose(i int) geom.Pose
	Grip(i int) float64
}

// GraspObserver is told whenever a tool starts or stops grasping.
type GraspObserver interface {
	GraspChanged(tool string)
}

// Options tune a task
type Options struct {
	// MeshDir holds the optional visual meshes of the task
	MeshDir string
	// Guidance enables the active constraint parameters
	Guidance bool
	// Path overrides the wire of the steady hand task, in meters
	Path [][3]float64
	// ShowRefFrames draws the current and desired tool frames
	ShowRefFrames bool
}

// Deps are the collaborators of a task
type Deps struct {
	Logger  log.Log
	Tools   ToolSource
	Meshes  *sim.MeshLibrary
	Grasp   GraspObserver
	Options Options
}

// State is the phase of a repetition
type State uint8

const (
	StateIdle State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "active":
		*s = StateActive
	case "finished":
		*s = StateFinished
	default:
		return fmt.Errorf("unknown task state %q", b)
	}
	return nil
}

// ErrorStats accumulates the tracking error of one repetition.
type ErrorStats struct {
	PositionSum    float64 `json:"position_sum"`
	OrientationSum float64 `json:"orientation_sum"`
	PositionMax    float64 `json:"position_max"`
	OrientationMax float64 `json:"orientation_max"`
	Samples        int     `json:"samples"`
	// Faults counts task specific mistakes: wire touches, needle drops or ring touches.
	Faults int `json:"faults"`
}

func (e ErrorStats) MeanPosition() float64 {
	if e.Samples == 0 {
		return 0
	}
	return e.PositionSum / float64(e.Samples)
}

func (e ErrorStats) MeanOrientation() float64 {
	if e.Samples == 0 {
		return 0
	}
	return e.OrientationSum / float64(e.Samples)
}

// StateRecord is the published state of a task
type StateRecord struct {
	Task string `json:"task"`
	State State `json:"state"`
	// Label is the task specific name of the current phase
	Label         string        `json:"label"`
	Repetition    int           `json:"repetition"`
	Score         float64       `json:"score"`
	ScoreHistory  []float64     `json:"score_history"`
	AcquisitionID string        `json:"acquisition_id,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	Errors        ErrorStats    `json:"errors"`
}

// Equal reports whether two records would publish the same message, ignoring Elapsed.
func (r StateRecord) Equal(o StateRecord) bool {
	if r.Task != o.Task || r.State != o.State || r.Label != o.Label ||
		r.Repetition != o.Repetition || r.Score != o.Score ||
		r.AcquisitionID != o.AcquisitionID || r.Errors != o.Errors ||
		len(r.ScoreHistory) != len(o.ScoreHistory) {
		return false
	}
	for i := range r.ScoreHistory {
		if r.ScoreHistory[i] != o.ScoreHistory[i] {
			return false
		}
	}
	return true
}

// ACParams are the active constraint parameters of one tool
type ACParams struct {
	Tool             int        `json:"tool"`
	Active           bool       `json:"active"`
	LinearStiffness  float64    `json:"linear_stiffness"`
	LinearDamping    float64    `json:"linear_damping"`
	AngularStiffness float64    `json:"angular_stiffness"`
	AngularDamping   float64    `json:"angular_damping"`
	MaxForce         float64    `json:"max_force"`
	MaxTorque        float64    `json:"max_torque"`
	PositionError    [3]float64 `json:"position_error"`
	OrientationError [3]float64 `json:"orientation_error"`
}

const (
	gainEpsilon        = 1e-3
	positionEpsilon    = 1e-4
	orientationEpsilon = 1e-3
)

// Meaningful reports whether p differs enough from prev to be worth publishing.
func (p ACParams) Meaningful(prev ACParams) bool {
	if p.Tool != prev.Tool || p.Active != prev.Active {
		return true
	}
	gains := [][2]float64{
		{p.LinearStiffness, prev.LinearStiffness},
		{p.LinearDamping, prev.LinearDamping},
		{p.AngularStiffness, prev.AngularStiffness},
		{p.AngularDamping, prev.AngularDamping},
		{p.MaxForce, prev.MaxForce},
		{p.MaxTorque, prev.MaxTorque},
	}
	for _, g := range gains {
		if math.Abs(g[0]-g[1]) > gainEpsilon {
			return true
		}
	}
	for i := 0; i < 3; i++ {
		if math.Abs(p.PositionError[i]-prev.PositionError[i]) > positionEpsilon ||
			math.Abs(p.OrientationError[i]-prev.OrientationError[i]) > orientationEpsilon {
			return true
		}
	}
	return false
}
