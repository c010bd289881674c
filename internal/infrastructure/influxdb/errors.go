package influxdb

import "errors"

var (
	// ErrDisabled is returned by Open when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned by Open when the server cannot be
	// reached or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps batch failures passed to the Open error callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrClosed is reported by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: recorder closed")
)
