package physics

import "errors"

var (
	ErrWorldClosed      = errors.New("physics world is closed")
	ErrNilBody          = errors.New("nil body")
	ErrBodyNotInWorld   = errors.New("body is not in the world")
	ErrBodyAlreadyAdded = errors.New("body already added to the world")
)
