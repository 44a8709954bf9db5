package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/sim"
)

const tick = 2 * time.Millisecond

type testTools struct {
	*input.Tools
	handlers []input.Handlers
}

func newTestTools(t *testing.T, n int) *testTools {
	t.Helper()
	cfgs := make([]input.ToolConfig, n)
	for i := range cfgs {
		cfgs[i] = input.ToolConfig{Name: fmt.Sprintf("tool%d", i)}
	}
	tools, err := input.New(log.NewNop(), cfgs...)
	require.NoError(t, err)
	tt := &testTools{Tools: tools}
	for i := 0; i < n; i++ {
		h, err := tools.Handlers(i)
		require.NoError(t, err)
		tt.handlers = append(tt.handlers, h)
	}
	return tt
}

func (tt *testTools) move(i int, p geom.Pose) { tt.handlers[i].SetPose(p) }
func (tt *testTools) grip(i int, g float64)   { tt.handlers[i].SetGrip(g) }

func (tt *testTools) moveTo(i int, pos mgl64.Vec3) {
	tt.move(i, geom.NewPose(pos, mgl64.QuatIdent()))
}

type graspCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (g *graspCounter) GraspChanged(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[tool]++
}

func (g *graspCounter) count(tool string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[tool]
}

func testDeps(tools ToolSource, guidance bool) Deps {
	return Deps{
		Logger:  log.NewNop(),
		Tools:   tools,
		Meshes:  sim.NewMeshLibrary(log.NewNop()),
		Options: Options{Guidance: guidance},
	}
}

func steps(e Engine, n int) {
	for i := 0; i < n; i++ {
		e.StepControl(tick)
	}
}
