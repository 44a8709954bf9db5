package task

import "errors"

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrNoTools     = errors.New("task needs at least one tool")
)
