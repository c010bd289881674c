package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInvalidFilter is returned when a filter field is empty or not a
	// single topic level.
	ErrInvalidFilter = errors.New("command: invalid filter")

	// ErrInvalidScope is returned for an unknown scope or target.
	ErrInvalidScope = errors.New("command: invalid scope")

	// ErrMissingSink is returned when a router is created without a sink.
	ErrMissingSink = errors.New("command: sink is required")
)
