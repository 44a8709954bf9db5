package config

import "errors"

var (
	ErrMissingRequiredConfiguration = errors.New("missing required configuration")
	ErrInvalidConfiguration         = errors.New("invalid configuration")
)
