package event

import "errors"

// Domain errors for the event package.
var (
	// ErrPublisherClosed is reported as a warning after Close, or once the
	// publisher's connection has been destroyed.
	ErrPublisherClosed = errors.New("event: publisher closed")

	// ErrInvalidScope is returned for an unknown publisher scope.
	ErrInvalidScope = errors.New("event: invalid scope")
)
