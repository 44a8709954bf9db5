package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zeusync/atar/internal/config"
	"github.com/zeusync/atar/internal/core/arcore"
	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/frames"
	"github.com/zeusync/atar/internal/core/input"
	"github.com/zeusync/atar/internal/core/observability/log"
	"github.com/zeusync/atar/internal/core/task"
)

// Core is the part of the simulator the server talks to
type Core interface {
	State() task.StateRecord
	Tools() *input.Tools
	HandleControl(ctx context.Context, ctl arcore.Control) error
}

// Server exposes the simulator over HTTP: health, metrics, the task state, control
// commands and a websocket carrying telemetry out and tool input in.
type Server struct {
	cfg     config.ServerConfig
	logger  log.Log
	core    Core
	bus     bus.EventBus
	frames  *frames.Grabber
	metrics http.Handler
	hub     *hub
	subs    []bus.Subscription

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	done     chan struct{}

	running atomic.Bool
	closed  atomic.Bool
}

// Option configures optional collaborators of a Server
type Option func(*Server)

// WithFrames routes camera_pose and image messages to a frame grabber
func WithFrames(g *frames.Grabber) Option {
	return func(s *Server) { s.frames = g }
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a server and subscribes it to the telemetry topic of eventBus
func NewServer(cfg config.ServerConfig, logger log.Log, core Core, eventBus bus.EventBus, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger.With(log.String("component", "server")),
		core:   core,
		bus:    eventBus,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)

	if err := eventBus.CreateTopic(bus.TopicTelemetry); err != nil {
		return nil, err
	}
	for kind, name := range telemetryKinds {
		sub, err := eventBus.SubscribeTopic(bus.TopicTelemetry, kind, s.forward(name))
		if err != nil {
			s.unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", kind, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("Server created", log.String("listen_addr", cfg.Address))
	return s, nil
}

// Handler returns the router with every endpoint mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/bus", s.handleBus)
	r.Post("/control/{command}", s.handleControl)
	r.Get("/ws", s.handleWebSocket)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil when the server is not running
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop disconnects websocket clients and shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")

	s.mu.Lock()
	srv, done := s.http, s.done
	s.http, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	s.hub.closeAll()
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.logger.Info("Server stopped")
	return err
}

// Close stops the server if needed and drops its telemetry subscriptions
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var err error
	if s.running.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		err = s.Stop(ctx)
		cancel()
	}
	s.unsubscribe()
	s.hub.closeAll()
	return err
}

func (s *Server) unsubscribe() {
	for _, sub := range s.subs {
		if err := s.bus.Unsubscribe(sub); err != nil {
			s.logger.Warn("Unsubscribe failed", log.String("event_type", sub.EventType()), log.Error(err))
		}
	}
	s.subs = nil
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	return s.hub.len()
}
