package host

import "errors"

// Domain errors for the host package.
var (
	// ErrUnknownEndpoint is returned when no outbound endpoint has the given ID.
	ErrUnknownEndpoint = errors.New("host: unknown endpoint")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("host: already started")
)
