package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is reported when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is reported when an established connection drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic field is empty or spans levels.
	ErrInvalidTopic = errors.New("mqtt: invalid topic field")

	// ErrGatewayOnly is returned when a gateway operation is used on a
	// device connection.
	ErrGatewayOnly = errors.New("mqtt: operation requires a gateway connection")
)
