package frames

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
)

const (
	Left  = 0
	Right = 1
)

// Image is an opaque camera frame
type Image struct {
	Camera   int       `json:"camera"`
	Seq      uint64    `json:"seq"`
	Stamp    time.Time `json:"stamp"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Encoding string    `json:"encoding"`
	Data     []byte    `json:"-"`
}

// Pair is a stereo frame with the task-to-camera poses valid for it.
type Pair struct {
	Images      [2]Image
	CameraPoses [2]geom.Pose
	// Stale is set when no fresh pair arrived in time and the previous one is reused.
	Stale bool
}

// StaleCounter is told about every reused frame
type StaleCounter interface {
	StaleFrame()
}

// Grabber collects images and camera poses pushed by their sources and hands out
// stereo pairs to the render loop.
type Grabber struct {
	log   log.Log
	stale StaleCounter

	mu          sync.Mutex
	latest      [2]Image
	fresh       [2]bool
	poses       [2]geom.Pose
	havePose    [2]bool
	leftToRight geom.Pose
	haveLR      bool
	last        Pair

	notify chan struct{}
}

type Option func(*Grabber)

func WithStaleCounter(c StaleCounter) Option {
	return func(g *Grabber) { g.stale = c }
}

func NewGrabber(logger log.Log, opts ...Option) *Grabber {
	g := &Grabber{
		log:    logger.With(log.String("component", "frames")),
		notify: make(chan struct{}, 1),
	}
	for i := range g.poses {
		g.poses[i] = geom.Identity()
	}
	g.last.CameraPoses = g.poses
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PushImage stores the newest image of a camera. Images for unknown cameras are dropped.
func (g *Grabber) PushImage(img Image) {
	if img.Camera != Left && img.Camera != Right {
		g.log.Warn("Dropping image of unknown camera", log.Int("camera", img.Camera))
		return
	}
	g.mu.Lock()
	g.latest[img.Camera] = img
	g.fresh[img.Camera] = true
	g.mu.Unlock()
	g.signal()
}

// PushCameraPose stores the pose of the task frame in the given camera frame.
func (g *Grabber) PushCameraPose(camera int, pose geom.Pose) {
	if camera != Left && camera != Right {
		g.log.Warn("Dropping pose of unknown camera", log.Int("camera", camera))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.poses[camera] = pose
	g.havePose[camera] = true
	if g.havePose[Left] && g.havePose[Right] && !g.haveLR {
		g.leftToRight = g.poses[Right].Mul(g.poses[Left].Inverse())
		g.haveLR = true
	}
}

// CameraPoses returns both camera poses. A camera that never reported a pose is
// derived from the other one once the left-to-right transform is known.
func (g *Grabber) CameraPoses() [2]geom.Pose {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cameraPosesLocked()
}

func (g *Grabber) cameraPosesLocked() [2]geom.Pose {
	out := g.poses
	if g.haveLR {
		switch {
		case g.havePose[Left] && !g.havePose[Right]:
			out[Right] = g.leftToRight.Mul(out[Left])
		case g.havePose[Right] && !g.havePose[Left]:
			out[Left] = g.leftToRight.Inverse().Mul(out[Right])
		}
	}
	return out
}

// SetLeftToRight fixes the transform between the cameras, for setups where only one
// camera pose is ever published.
func (g *Grabber) SetLeftToRight(t geom.Pose) {
	g.mu.Lock()
	g.leftToRight = t
	g.haveLR = true
	g.mu.Unlock()
}

// Acquire waits for a fresh image from both cameras. When timeout expires first it
// logs a warning and returns the previous pair marked stale. It never blocks longer
// than timeout.
func (g *Grabber) Acquire(ctx context.Context, timeout time.Duration) (Pair, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		g.mu.Lock()
		if g.fresh[Left] && g.fresh[Right] {
			g.fresh = [2]bool{}
			g.last = Pair{Images: g.latest, CameraPoses: g.cameraPosesLocked()}
			p := g.last
			g.mu.Unlock()
			return p, nil
		}
		g.mu.Unlock()

		select {
		case <-g.notify:
		case <-timer.C:
			g.log.Warn("No fresh stereo pair, reusing previous frame", log.Duration("timeout", timeout))
			if g.stale != nil {
				g.stale.StaleFrame()
			}
			return g.previous(), nil
		case <-ctx.Done():
			return g.previous(), ctx.Err()
		}
	}
}

func (g *Grabber) previous() Pair {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.last
	p.CameraPoses = g.cameraPosesLocked()
	p.Stale = true
	return p
}

func (g *Grabber) signal() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}
