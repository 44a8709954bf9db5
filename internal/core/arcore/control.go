package arcore

import (
	"context"
	"fmt"

	"github.com/zeusync/atar/internal/core/events/bus"
	"github.com/zeusync/atar/internal/core/geom"
	"github.com/zeusync/atar/internal/core/observability/log"
)

// Command names a control event
type Command string

const (
	CommandResetTask        Command = "reset_task"
	CommandResetAcquisition Command = "reset_acquisition"
	CommandSwitchTask       Command = "switch_task"
	CommandStop             Command = "stop"
	CommandCalibrateTool    Command = "calibrate_tool"
	CommandCameraPedal      Command = "camera_pedal"
)

// ParseCommand accepts the wire names of the commands
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandResetTask, CommandResetAcquisition, CommandSwitchTask, CommandStop,
		CommandCalibrateTool, CommandCameraPedal:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Control is one control event. Task is only read by switch_task, Tool and Pose
// by calibrate_tool and Pressed by camera_pedal.
type Control struct {
	Command Command   `json:"command"`
	Task    string    `json:"task,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Pose    []float64 `json:"pose,omitempty"`
	Pressed bool      `json:"pressed,omitempty"`
}

// SwitchRecord is published when a new task takes over the loops
type SwitchRecord struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HandleControl applies a control event. Resets take effect on the running task at
// once and its scene is put back on the next control tick. A task switch builds the
// new task here, so construction errors reach the caller and the running task stays
// in place; the control loop swaps tasks on its next tick.
func (c *Core) HandleControl(_ context.Context, ctl Control) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.log.Info("Control event", log.String("command", string(ctl.Command)), log.String("task", ctl.Task))

	switch ctl.Command {
	case CommandResetTask:
		c.current().Reset()
	case CommandResetAcquisition:
		c.current().ResetAcquisition()
	case CommandSwitchTask:
		next, err := c.buildTask(ctl.Task)
		if err != nil {
			c.log.Error("Task switch failed, keeping current task", log.String("task", ctl.Task), log.Error(err))
			return err
		}
		if prev := c.pending.Swap(&slot{engine: next}); prev != nil {
			prev.engine.Close()
		}
	case CommandStop:
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel == nil {
			return ErrNotRunning
		}
		cancel()
	case CommandCalibrateTool:
		return c.calibrate(ctl.Tool, ctl.Pose)
	case CommandCameraPedal:
		// the control loop switches guidance off while the camera is moved
		c.pedal.Store(ctl.Pressed)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, ctl.Command)
	}
	return nil
}

// calibrate maps the current pose of a tool onto a known task space pose
func (c *Core) calibrate(tool string, pose []float64) error {
	i, err := c.tools.Index(tool)
	if err != nil {
		return err
	}
	known, err := geom.FromSlice(pose)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidControl, err)
	}
	if known.Rot.Len() == 0 {
		return fmt.Errorf("%w: zero quaternion", ErrInvalidControl)
	}
	known.Rot = known.Rot.Normalize()
	return c.tools.Calibrate(i, known)
}

// applySwitch installs a pending task. Called from the control loop only.
func (c *Core) applySwitch() {
	next := c.pending.Swap(nil)
	if next == nil {
		return
	}
	c.swapMu.Lock()
	prev := c.task.Swap(next)
	c.swapMu.Unlock()
	prev.engine.Close()

	c.log.Info("Task switched", log.String("from", prev.engine.Name()), log.String("to", next.engine.Name()))
	c.publish(bus.TypeTaskSwap, SwitchRecord{From: prev.engine.Name(), To: next.engine.Name()})
}
