package render

import (
	"context"
	"sync"
	"time"
)

// ActorSnapshot is the serializable state of one actor. Matrix is column-major.
type ActorSnapshot struct {
	ID       uint64      `json:"id"`
	Name     string      `json:"name"`
	Geometry Geometry    `json:"geometry"`
	Matrix   [16]float64 `json:"matrix"`
	Color    [3]float64  `json:"color"`
	Opacity  float64     `json:"opacity"`
	Visible  bool        `json:"visible"`
}

// Scene is one rendered frame of the task scene
type Scene struct {
	Task    string          `json:"task"`
	Frame   uint64          `json:"frame"`
	Time    time.Time       `json:"time"`
	Actors  []ActorSnapshot `json:"actors"`
	Overlay *Overlay        `json:"overlay,omitempty"`
}

// Overlay carries the camera side of a frame: the task-to-camera poses the scene is
// drawn with and the timestamps of the images it is composited on.
type Overlay struct {
	CameraPoses [2][7]float64 `json:"camera_poses"`
	ImageTimes  [2]time.Time  `json:"image_times"`
	Stale       bool          `json:"stale"`
}

// Capture snapshots every actor of a task
func Capture(task string, frame uint64, actors []*Actor) Scene {
	s := Scene{Task: task, Frame: frame, Time: time.Now(), Actors: make([]ActorSnapshot, 0, len(actors))}
	for _, a := range actors {
		s.Actors = append(s.Actors, a.Snapshot())
	}
	return s
}

// Renderer draws a scene. Implementations must not retain the slice.
type Renderer interface {
	Render(ctx context.Context, scene Scene) error
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, scene Scene) error

func (f RendererFunc) Render(ctx context.Context, scene Scene) error { return f(ctx, scene) }

// Recorder keeps the most recent scene in memory. It backs headless runs and the
// scene endpoint of the server.
type Recorder struct {
	mu     sync.RWMutex
	last   Scene
	frames uint64
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Render(_ context.Context, scene Scene) error {
	r.mu.Lock()
	r.last = scene
	r.frames++
	r.mu.Unlock()
	return nil
}

// Last returns the latest scene and the number of frames seen so far
func (r *Recorder) Last() (Scene, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.frames
}
