package arcore

import "errors"

var (
	ErrNotRunning     = errors.New("core is not running")
	ErrAlreadyRunning = errors.New("core is already running")
	ErrUnknownCommand = errors.New("unknown control command")
	ErrClosed         = errors.New("core is closed")
	ErrInvalidControl = errors.New("invalid control event")
)
