package credentials

import "errors"

// Domain errors for the credentials package.
var (
	// ErrMissingCredentials is returned when a node is absent or incomplete.
	ErrMissingCredentials = errors.New("credentials: missing IoT device credentials")
)
