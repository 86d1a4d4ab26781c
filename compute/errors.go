package compute

import (
	"errors"
)

var (
	// ErrCapability is returned when the backend lacks a required feature.
	ErrCapability = errors.New("compute: missing backend capability")
	// ErrCapacity is returned when a buffer would exceed backend limits.
	ErrCapacity = errors.New("compute: storage capacity exceeded")
	// ErrConfig is returned for malformed configuration.
	ErrConfig = errors.New("compute: invalid configuration")
	// ErrPrecondition is returned when a stage runs without its inputs.
	ErrPrecondition = errors.New("compute: missing required input")
	// ErrClosed is returned when a closed Context is used.
	ErrClosed = errors.New("compute: context closed")
)
