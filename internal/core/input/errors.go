package input

import "errors"

var ErrInvalidTool = errors.New("invalid tool")
