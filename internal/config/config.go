package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
)

// MaxTools is the number of tools a task can be driven by
const MaxTools = 2

// Config is the process configuration, usually read from atar.yaml.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Loop    LoopConfig    `yaml:"loop"`
	Task    TaskConfig    `yaml:"task"`
	Tools   []ToolConfig  `yaml:"tools"`
	Frames  FramesConfig  `yaml:"frames"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LogConfig struct {
	Level    string   `yaml:"level"`
	Encoding string   `yaml:"encoding"`
	Outputs  []string `yaml:"outputs,omitempty"`
}

// LoopConfig holds the rates of the control and render loops in Hz
type LoopConfig struct {
	ControlRate float64 `yaml:"control_rate"`
	RenderRate  float64 `yaml:"render_rate"`
}

type TaskConfig struct {
	Name     string `yaml:"name"`
	MeshDir  string `yaml:"mesh_dir"`
	NumTools int    `yaml:"num_tools"`
	Guidance bool   `yaml:"guidance"`
	// ShowRefFrames draws the current and desired tool frames in the steady hand task.
	ShowRefFrames bool `yaml:"show_ref_frames"`
	// Path replaces the default steady hand wire, in task space metres.
	Path [][3]float64 `yaml:"path,omitempty"`
	// Preload lists mesh files under MeshDir decomposed before the first task starts.
	Preload []string `yaml:"preload,omitempty"`
}

type ToolConfig struct {
	Name string `yaml:"name"`
	// ToWorld is the 7-scalar pose (x,y,z,qx,qy,qz,qw) mapping tool poses into task space.
	ToWorld []float64 `yaml:"to_world,omitempty"`
}

type FramesConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used for every key the file leaves out. Task name,
// mesh directory and tool names have no defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Loop: LoopConfig{
			ControlRate: 500,
			RenderRate:  25,
		},
		Task: TaskConfig{
			NumTools: 1,
			Guidance: true,
		},
		Frames: FramesConfig{
			Timeout: 50 * time.Millisecond,
		},
		Server: ServerConfig{
			Enabled:         true,
			Address:         ":8090",
			ShutdownTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "atar",
		},
	}
}

// Load reads a YAML file on top of Default. The result is not validated so that
// command line overrides can be applied first.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader is Load for an already opened document. Unknown keys are rejected.
func LoadReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

// Validate reports the first missing or invalid key
func (c Config) Validate() error {
	if c.Task.Name == "" {
		return missing("task.name")
	}
	if c.Task.MeshDir == "" {
		return missing("task.mesh_dir")
	}
	if c.Task.NumTools < 1 || c.Task.NumTools > MaxTools {
		return invalid("task.num_tools", "must be between 1 and %d, got %d", MaxTools, c.Task.NumTools)
	}
	if len(c.Task.Path) == 1 {
		return invalid("task.path", "needs at least 2 points")
	}

	for i := 0; i < c.Task.NumTools; i++ {
		key := fmt.Sprintf("tools[%d]", i)
		if i >= len(c.Tools) || c.Tools[i].Name == "" {
			return missing(key + ".name")
		}
		if _, err := c.Tools[i].Pose(); err != nil {
			return invalid(key+".to_world", "%v", err)
		}
	}

	if c.Loop.ControlRate <= 0 {
		return invalid("loop.control_rate", "must be positive, got %g", c.Loop.ControlRate)
	}
	if c.Loop.RenderRate <= 0 {
		return invalid("loop.render_rate", "must be positive, got %g", c.Loop.RenderRate)
	}
	if c.Frames.Timeout <= 0 {
		return invalid("frames.timeout", "must be positive, got %s", c.Frames.Timeout)
	}

	if _, err := c.Log.ParsedLevel(); err != nil {
		return invalid("log.level", "%v", err)
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return invalid("log.encoding", "want json or console, got %q", c.Log.Encoding)
	}

	if c.Server.Enabled && c.Server.Address == "" {
		return missing("server.address")
	}
	return nil
}

// ParsedLevel returns the configured log level
func (c LogConfig) ParsedLevel() (log.Level, error) {
	return log.ParseLevel(c.Level)
}

// Logger builds the process logger from the log section
func (c LogConfig) Logger() (*log.Logger, error) {
	level, err := c.ParsedLevel()
	if err != nil {
		return nil, err
	}
	return log.NewWithConfig(log.Config{Level: level, Encoding: c.Encoding, Outputs: c.Outputs})
}

// Pose returns ToWorld as a pose; an empty ToWorld is the identity.
func (c ToolConfig) Pose() (geom.Pose, error) {
	if len(c.ToWorld) == 0 {
		return geom.Identity(), nil
	}
	p, err := geom.FromSlice(c.ToWorld)
	if err != nil {
		return geom.Pose{}, err
	}
	if p.Rot.Len() < 1e-9 {
		return geom.Pose{}, errors.New("rotation quaternion is zero")
	}
	return p, nil
}

func missing(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingRequiredConfiguration, key)
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfiguration, key, fmt.Sprintf(format, args...))
}
