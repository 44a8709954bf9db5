package arcore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/atar/internal/config"
	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/frames"
	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/observability/metrics"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/sim"
	"github.com/zeusync/atar/internal/core/systems"
	"github.com/zeusync/atar/internal/core/task"
)

const source = "arcore"

// ACRecord is published whenever the guidance parameters of the running task change
type ACRecord struct {
	Task   string          `json:"task"`
	Params []task.ACParams `json:"params"`
}

type slot struct {
	engine task.Engine
}

// Core owns the running task and drives it from two loops: the control loop steps
// physics and publishes guidance, the render loop refreshes actors and hands scenes
// to the renderer. Telemetry leaves through the event bus.
type Core struct {
	cfg      config.Config
	root     log.Log
	log      log.Log
	bus      bus.EventBus
	tools    *input.Tools
	frames   *frames.Grabber
	renderer render.Renderer
	metrics  *metrics.Metrics
	meshes   *sim.MeshLibrary

	task    atomic.Pointer[slot]
	pending atomic.Pointer[slot]
	// swapMu keeps a task from being closed while the render loop draws it
	swapMu sync.RWMutex

	mu     sync.Mutex
	cancel context.CancelFunc

	running atomic.Bool
	closed  atomic.Bool
	pedal   atomic.Bool

	// control loop only
	clutched bool

	// render loop only
	frame     uint64
	lastState task.StateRecord
	published bool
}

// New builds the core and the task named in cfg. A nil renderer draws into a
// render.Recorder, a nil metrics disables metrics.
func New(
	cfg config.Config,
	logger log.Log,
	eventBus bus.EventBus,
	tools *input.Tools,
	grabber *frames.Grabber,
	renderer render.Renderer,
	m *metrics.Metrics,
	meshes *sim.MeshLibrary,
) (*Core, error) {
	if renderer == nil {
		renderer = render.NewRecorder()
	}
	if meshes == nil {
		meshes = sim.NewMeshLibrary(logger)
	}
	c := &Core{
		cfg:      cfg,
		root:     logger,
		log:      logger.With(log.String("component", "arcore")),
		bus:      eventBus,
		tools:    tools,
		frames:   grabber,
		renderer: renderer,
		metrics:  m,
		meshes:   meshes,
	}
	if err := c.bus.CreateTopic(bus.TopicTelemetry); err != nil {
		return nil, err
	}

	engine, err := c.buildTask(cfg.Task.Name)
	if err != nil {
		return nil, err
	}
	c.task.Store(&slot{engine: engine})
	if m != nil {
		c.bus.AddObserver(m)
	}
	return c, nil
}

// NewTools registers the configured tools with their task space transforms
func NewTools(cfg config.Config, logger log.Log) (*input.Tools, error) {
	n := cfg.Task.NumTools
	if n > len(cfg.Tools) {
		return nil, fmt.Errorf("%w: %d tools configured, task needs %d", input.ErrInvalidTool, len(cfg.Tools), n)
	}
	tools := make([]input.ToolConfig, n)
	for i := range tools {
		toWorld, err := cfg.Tools[i].Pose()
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", cfg.Tools[i].Name, err)
		}
		tools[i] = input.ToolConfig{Name: cfg.Tools[i].Name, ToWorld: toWorld}
	}
	return input.New(logger, tools...)
}

func (c *Core) buildTask(name string) (task.Engine, error) {
	deps := task.Deps{
		Logger: c.root,
		Tools:  c.tools,
		Meshes: c.meshes,
		Options: task.Options{
			MeshDir:       c.cfg.Task.MeshDir,
			Guidance:      c.cfg.Task.Guidance,
			Path:          c.cfg.Task.Path,
			ShowRefFrames: c.cfg.Task.ShowRefFrames,
		},
	}
	if c.metrics != nil {
		deps.Grasp = c.metrics
	}
	engine, err := task.New(name, deps)
	if err != nil {
		return nil, fmt.Errorf("build task %s: %w", name, err)
	}
	return engine, nil
}

func (c *Core) current() task.Engine {
	return c.task.Load().engine
}

// TaskName returns the name of the running task
func (c *Core) TaskName() string { return c.current().Name() }

// State returns the state record of the running task
func (c *Core) State() task.StateRecord { return c.current().State() }

func (c *Core) Tools() *input.Tools { return c.tools }

// Running reports whether Run is active
func (c *Core) Running() bool { return c.running.Load() }

// Run preloads the configured meshes and runs the control and render loops until ctx
// is done or a stop command arrives.
func (c *Core) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	c.preload(ctx)

	var opts []systems.LoopOption
	opts = append(opts, systems.WithLogger(c.log))
	if c.metrics != nil {
		opts = append(opts, systems.WithObserver(c.metrics))
	}
	controlLoop, err := systems.NewLoop("control", systems.PhaseFixedUpdate, c.cfg.Loop.ControlRate, c.controlTick, opts...)
	if err != nil {
		return err
	}
	renderLoop, err := systems.NewLoop("render", systems.PhaseRender, c.cfg.Loop.RenderRate, c.renderTick, opts...)
	if err != nil {
		return err
	}

	c.log.Info("Core running",
		log.String("task", c.TaskName()),
		log.Duration("control_period", controlLoop.Period()),
		log.Duration("render_period", renderLoop.Period()),
	)
	return systems.RunGroup(ctx, controlLoop, renderLoop)
}

func (c *Core) preload(ctx context.Context) {
	if len(c.cfg.Task.Preload) == 0 {
		return
	}
	paths := make([]string, len(c.cfg.Task.Preload))
	for i, p := range c.cfg.Task.Preload {
		paths[i] = filepath.Join(c.cfg.Task.MeshDir, p)
	}
	start := time.Now()
	if err := c.meshes.Preload(ctx, paths...); err != nil {
		c.log.Warn("Mesh preload failed", log.Error(err))
		return
	}
	c.log.Info("Meshes preloaded", log.Int("meshes", len(paths)), log.Duration("took", time.Since(start)))
}

func (c *Core) controlTick(_ context.Context, dt time.Duration) error {
	c.applySwitch()

	t := c.current()
	t.StepControl(dt)
	switch pressed := c.pedal.Load(); {
	case pressed && !c.clutched:
		c.clutched = true
		c.log.Debug("Camera pedal pressed, guidance off")
		c.publish(bus.TypeACParams, ACRecord{Task: t.Name(), Params: c.releasedAC()})
	case !pressed && (c.clutched || t.ACParamsChanged()):
		c.clutched = false
		c.publish(bus.TypeACParams, ACRecord{Task: t.Name(), Params: t.ACParams()})
	}
	return nil
}

// releasedAC is the guidance published while the camera pedal is held
func (c *Core) releasedAC() []task.ACParams {
	out := make([]task.ACParams, c.tools.Len())
	for i := range out {
		out[i].Tool = i
	}
	return out
}

func (c *Core) renderTick(ctx context.Context, _ time.Duration) error {
	overlay, ok := c.acquire(ctx)
	if !ok {
		return nil
	}

	c.swapMu.RLock()
	t := c.current()
	t.StepRender()
	c.frame++
	scene := render.Capture(t.Name(), c.frame, t.Actors())
	c.swapMu.RUnlock()
	scene.Overlay = overlay

	if err := c.renderer.Render(ctx, scene); err != nil {
		c.log.Warn("Render failed", log.Uint64("frame", c.frame), log.Error(err))
	}

	state := t.State()
	if !c.published || !state.Equal(c.lastState) {
		c.lastState = state
		c.published = true
		c.publish(bus.TypeTaskState, state)
		if c.metrics != nil {
			c.metrics.TaskState(state.Task, int(state.State), state.Repetition)
		}
	}
	c.publish(bus.TypeScene, scene)
	return nil
}

// acquire waits for the next stereo pair when frames are enabled. It reports false
// only when ctx is done.
func (c *Core) acquire(ctx context.Context) (*render.Overlay, bool) {
	if !c.cfg.Frames.Enabled || c.frames == nil {
		return nil, true
	}
	pair, err := c.frames.Acquire(ctx, c.cfg.Frames.Timeout)
	if err != nil {
		return nil, false
	}
	return &render.Overlay{
		CameraPoses: [2][geom.ArrayLen]float64{pair.CameraPoses[frames.Left].Array(), pair.CameraPoses[frames.Right].Array()},
		ImageTimes:  [2]time.Time{pair.Images[frames.Left].Stamp, pair.Images[frames.Right].Stamp},
		Stale:       pair.Stale,
	}, true
}

// publish hands a record to the telemetry topic. Published and failed records are
// counted by the metrics observing the bus.
func (c *Core) publish(kind string, data any) {
	if err := c.bus.PublishToTopic(bus.TopicTelemetry, bus.NewEvent(kind, source, data)); err != nil {
		c.log.Warn("Publish failed", log.String("kind", kind), log.Error(err))
	}
}

// Close releases the running task and any task waiting to be switched in. Run must
// have returned.
func (c *Core) Close() {
	if c.closed.Swap(true) {
		return
	}
	if p := c.pending.Swap(nil); p != nil {
		p.engine.Close()
	}
	c.current().Close()
	if c.metrics != nil {
		c.bus.RemoveObserver(c.metrics)
	}
	c.log.Info("Core closed")
}
