package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/atar/internal/config"
	"github.com/zeusync/atar/internal/core/arcore"
	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/frames"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/observability/metrics"
	"github.com/zeusync/atar/internal/core/render"
	"github.com/zeusync/atar/internal/core/sim"
	"github.com/zeusync/atar/internal/server"
)

// ProviderSet builds a complete App from a validated Config
var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideMetrics,
	ProvideGrabber,
	render.NewRecorder,
	wire.Bind(new(render.Renderer), new(*render.Recorder)),
	ProvideMeshLibrary,
	arcore.NewTools,
	ProvideCore,
	wire.Bind(new(server.Core), new(*arcore.Core)),
	ProvideServer,
	wire.Struct(new(App), "*"),
)

// App is the assembled process
type App struct {
	Config   config.Config
	Logger   log.Log
	Core     *arcore.Core
	Server   *server.Server
	Recorder *render.Recorder
}

// Run serves the configured endpoints and runs the core until ctx is done or a stop
// command arrives.
func (a *App) Run(ctx context.Context) error {
	if a.Server != nil {
		if err := a.Server.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
			defer cancel()
			if err := a.Server.Stop(stopCtx); err != nil {
				a.Logger.Warn("Server shutdown failed", log.Error(err))
			}
		}()
	}
	return a.Core.Run(ctx)
}

func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	logger, err := cfg.Log.Logger()
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideMetrics returns nil when metrics are disabled
func ProvideMetrics(cfg config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(cfg.Metrics.Namespace)
}

func ProvideGrabber(logger log.Log, m *metrics.Metrics) *frames.Grabber {
	if m == nil {
		return frames.NewGrabber(logger)
	}
	return frames.NewGrabber(logger, frames.WithStaleCounter(m))
}

func ProvideMeshLibrary(logger log.Log) *sim.MeshLibrary {
	return sim.NewMeshLibrary(logger)
}

func ProvideCore(
	cfg config.Config,
	logger log.Log,
	eventBus bus.EventBus,
	tools *input.Tools,
	grabber *frames.Grabber,
	renderer render.Renderer,
	m *metrics.Metrics,
	meshes *sim.MeshLibrary,
) (*arcore.Core, func(), error) {
	core, err := arcore.New(cfg, logger, eventBus, tools, grabber, renderer, m, meshes)
	if err != nil {
		return nil, nil, err
	}
	return core, core.Close, nil
}

// ProvideServer returns nil when the server is disabled
func ProvideServer(
	cfg config.Config,
	logger log.Log,
	core server.Core,
	eventBus bus.EventBus,
	grabber *frames.Grabber,
	m *metrics.Metrics,
) (*server.Server, func(), error) {
	if !cfg.Server.Enabled {
		return nil, func() {}, nil
	}
	opts := []server.Option{server.WithFrames(grabber)}
	if m != nil {
		opts = append(opts, server.WithMetrics(m.Handler()))
	}
	srv, err := server.NewServer(cfg.Server, logger, core, eventBus, opts...)
	if err != nil {
		return nil, nil, err
	}
	return srv, func() { _ = srv.Close() }, nil
}
