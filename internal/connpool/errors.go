package connpool

import "errors"

// Domain-specific errors for the connection pool.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDialFailed is returned when the transport for a new identity cannot be built.
	ErrDialFailed = errors.New("connpool: transport construction failed")

	// ErrInvalidConfig is returned when a connection config lacks required fields.
	ErrInvalidConfig = errors.New("connpool: invalid connection config")

	// ErrMissingUserID is returned when an attachment has no user ID.
	ErrMissingUserID = errors.New("connpool: user id is required")

	// ErrConnectionClosed is returned by Conn methods once the shared
	// connection has been released or destroyed.
	ErrConnectionClosed = errors.New("connpool: connection closed")
)
