package sim

import "errors"

var (
	ErrInvalidDimensions = errors.New("invalid dimensions for shape")
	ErrMeshNotFound      = errors.New("mesh file not found")
	ErrUnknownShape      = errors.New("unknown shape")
	ErrInvalidMesh       = errors.New("invalid mesh")
)
