package systems

import (
	"context"
	"time"
)

// StepFunc advances one loop by the time elapsed since its previous tick.
// Returned errors are logged and counted; they never stop the loop.
type StepFunc func(ctx context.Context, dt time.Duration) error

// ExecutionPhase defines when a loop runs
type ExecutionPhase uint8

const (
	PhaseFixedUpdate ExecutionPhase = iota
	PhaseRender
)

func (p ExecutionPhase) String() string {
	switch p {
	case PhaseFixedUpdate:
		return "fixed_update"
	case PhaseRender:
		return "render"
	default:
		return "unknown"
	}
}

// StateIdentity represents the current state of a loop
type StateIdentity uint8

const (
	StateUninitialized StateIdentity = iota
	StateRunning
	StateShutdown
)

func (s StateIdentity) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Metrics provides runtime metrics for a loop
type Metrics struct {
	ExecutionCount       uint64
	TotalExecutionTime   time.Duration
	AverageExecutionTime time.Duration
	MaxExecutionTime     time.Duration
	MinExecutionTime     time.Duration
	ErrorCount           uint64
	LastError            error
	LastExecutionTime    time.Time
	// Overruns counts ticks whose step took longer than the loop period.
	Overruns uint64
}

func (m *Metrics) record(at time.Time, d time.Duration, overrun bool, err error) {
	m.ExecutionCount++
	m.TotalExecutionTime += d
	m.AverageExecutionTime = m.TotalExecutionTime / time.Duration(m.ExecutionCount)
	if d > m.MaxExecutionTime {
		m.MaxExecutionTime = d
	}
	if m.MinExecutionTime == 0 || d < m.MinExecutionTime {
		m.MinExecutionTime = d
	}
	m.LastExecutionTime = at
	if overrun {
		m.Overruns++
	}
	if err != nil {
		m.ErrorCount++
		m.LastError = err
	}
}
