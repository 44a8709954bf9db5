package systems

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/atar/internal/core/observability/log"
)

// StepObserver receives the duration of every step
type StepObserver interface {
	ObserveStep(loop string, d time.Duration, overrun bool)
}

// Loop calls its step function at a fixed rate until the context is cancelled.
type Loop struct {
	name   string
	phase  ExecutionPhase
	period time.Duration
	step   StepFunc

	log      log.Log
	observer StepObserver

	state   atomic.Uint32
	mu      sync.Mutex
	metrics Metrics
}

type LoopOption func(*Loop)

func WithObserver(o StepObserver) LoopOption {
	return func(l *Loop) { l.observer = o }
}

func WithLogger(logger log.Log) LoopOption {
	return func(l *Loop) { l.log = logger }
}

// NewLoop creates a loop ticking rate times per second
func NewLoop(name string, phase ExecutionPhase, rate float64, step StepFunc, opts ...LoopOption) (*Loop, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("loop %s: rate must be positive, got %v", name, rate)
	}
	if step == nil {
		return nil, fmt.Errorf("loop %s: nil step", name)
	}
	l := &Loop{
		name:   name,
		phase:  phase,
		period: time.Duration(float64(time.Second) / rate),
		step:   step,
		log:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(log.String("loop", name), log.Stringer("phase", phase))
	return l, nil
}

func (l *Loop) Name() string          { return l.name }
func (l *Loop) Phase() ExecutionPhase { return l.phase }
func (l *Loop) Period() time.Duration { return l.period }
func (l *Loop) State() StateIdentity  { return StateIdentity(l.state.Load()) }

// Metrics returns a copy of the loop metrics
func (l *Loop) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// Run blocks until ctx is done. A step that overruns the period delays the next tick
// instead of queueing extra ticks.
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(uint32(StateRunning))
	defer l.state.Store(uint32(StateShutdown))

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.log.Info("Loop started", log.Duration("period", l.period))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("Loop stopped")
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			l.tick(ctx, dt)
		}
	}
}

// Tick runs one step outside of Run
func (l *Loop) Tick(ctx context.Context, dt time.Duration) {
	l.tick(ctx, dt)
}

func (l *Loop) tick(ctx context.Context, dt time.Duration) {
	start := time.Now()
	err := l.step(ctx, dt)
	elapsed := time.Since(start)
	overrun := elapsed > l.period

	l.mu.Lock()
	l.metrics.record(start, elapsed, overrun, err)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.ObserveStep(l.name, elapsed, overrun)
	}
	if err != nil {
		l.log.Error("Step failed", log.Error(err))
	}
}

// RunGroup runs every loop on its own goroutine and waits for all of them.
func RunGroup(ctx context.Context, loops ...*Loop) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}
	return g.Wait()
}
