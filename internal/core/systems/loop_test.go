package systems

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	loops    map[string]int
	overruns int
}

func (o *recordingObserver) ObserveStep(loop string, _ time.Duration, overrun bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loops == nil {
		o.loops = make(map[string]int)
	}
	o.loops[loop]++
	if overrun {
		o.overruns++
	}
}

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop("control", PhaseFixedUpdate, 0, func(context.Context, time.Duration) error { return nil })
	assert.Error(t, err)
	_, err = NewLoop("control", PhaseFixedUpdate, 100, nil)
	assert.Error(t, err)

	l, err := NewLoop("control", PhaseFixedUpdate, 500, func(context.Context, time.Duration) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, l.Period())
	assert.Equal(t, StateUninitialized, l.State())
	assert.Equal(t, PhaseFixedUpdate, l.Phase())
}

func TestExecutionPhase_String(t *testing.T) {
	assert.Equal(t, "fixed_update", PhaseFixedUpdate.String())
	assert.Equal(t, "render", PhaseRender.String())
	assert.Equal(t, "unknown", (PhaseRender + 1).String(), "only the two loop phases exist")
}

func TestLoop_TickRecordsMetrics(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	obs := &recordingObserver{}
	l, err := NewLoop("render", PhaseRender, 1000, func(_ context.Context, dt time.Duration) error {
		calls++
		if calls == 2 {
			time.Sleep(5 * time.Millisecond)
			return boom
		}
		return nil
	}, WithObserver(obs))
	require.NoError(t, err)

	l.Tick(context.Background(), time.Millisecond)
	l.Tick(context.Background(), time.Millisecond)

	m := l.Metrics()
	assert.Equal(t, uint64(2), m.ExecutionCount)
	assert.Equal(t, uint64(1), m.ErrorCount)
	assert.ErrorIs(t, m.LastError, boom)
	assert.Equal(t, uint64(1), m.Overruns)
	assert.GreaterOrEqual(t, m.MaxExecutionTime, 5*time.Millisecond)
	assert.LessOrEqual(t, m.MinExecutionTime, m.MaxExecutionTime)
	assert.Equal(t, 2, obs.loops["render"])
	assert.Equal(t, 1, obs.overruns)
}

func TestRunGroup_RunsLoopsUntilCancelled(t *testing.T) {
	var fast, slow atomic.Int32
	control, err := NewLoop("control", PhaseFixedUpdate, 500, func(_ context.Context, dt time.Duration) error {
		assert.Positive(t, dt)
		fast.Add(1)
		return nil
	})
	require.NoError(t, err)
	render, err := NewLoop("render", PhaseRender, 25, func(context.Context, time.Duration) error {
		slow.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, RunGroup(ctx, control, render))

	assert.Greater(t, fast.Load(), slow.Load())
	assert.Positive(t, slow.Load())
	assert.Equal(t, StateShutdown, control.State())
	assert.Equal(t, StateShutdown, render.State())
}
