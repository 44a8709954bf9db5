package injector

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/atar/internal/config"
	"github.com/zeusync/atar/internal/core/task"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Log.Outputs = []string{filepath.Join(t.TempDir(), "atar.log")}
	cfg.Task.Name = task.NameSteadyHand
	cfg.Task.MeshDir = t.TempDir()
	cfg.Tools = []config.ToolConfig{{Name: "PSM1"}}
	cfg.Server.Address = "127.0.0.1:0"
	return cfg
}

func TestInitializeApp(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, app.Core)
	require.NotNil(t, app.Server)
	assert.Equal(t, task.NameSteadyHand, app.Core.TaskName())
	assert.Equal(t, 1, app.Core.Tools().Len())
}

func TestInitializeApp_ServerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = false
	cfg.Metrics.Enabled = false
	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, app.Server)
}

func TestInitializeApp_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Task.Name = "juggling"
	_, _, err := InitializeApp(cfg)
	assert.ErrorIs(t, err, task.ErrUnknownTask)

	cfg = testConfig(t)
	cfg.Log.Level = "loud"
	_, _, err = InitializeApp(cfg)
	assert.Error(t, err)
}

func TestApp_Run(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, frames := app.Recorder.Last()
		return frames > 0 && app.Server.Addr() != nil
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + app.Server.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Nil(t, app.Server.Addr(), "the server is stopped with the core")
}
