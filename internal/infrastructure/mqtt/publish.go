package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a device event on the device's own event topic.
//
// Parameters:
//   - event: Event name (single topic level, e.g. "status")
//   - format: Format tag (e.g. "json", "text")
//   - payload: The message body (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(event, format string, payload []byte, qos byte) error {
	if err := validateLevels(false, event, format); err != nil {
		return err
	}
	return c.publish(Topics{}.DeviceEvent(event, format), payload, qos)
}

// PublishEvent sends an event on behalf of a device behind a gateway.
//
// Returns ErrGatewayOnly on a device connection.
func (c *Client) PublishEvent(deviceType, deviceID, event, format string, payload []byte, qos byte) error {
	if c.conn.Mode != connpool.ModeGateway {
		return ErrGatewayOnly
	}
	if err := validateLevels(false, deviceType, deviceID, event, format); err != nil {
		return err
	}
	return c.publish(Topics{}.GatewayEvent(deviceType, deviceID, event, format), payload, qos)
}

// publish validates and sends one message, waiting for the acknowledgement.
func (c *Client) publish(topic string, payload []byte, qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// validateLevels checks that every value is a single, non-empty topic level.
// With wildcards allowed, a value may also be exactly "+".
func validateLevels(wildcards bool, values ...string) error {
	for _, v := range values {
		if v == "" {
			return fmt.Errorf("%w: empty", ErrInvalidTopic)
		}
		if wildcards && v == "+" {
			continue
		}
		if strings.ContainsAny(v, "/+#") {
			return fmt.Errorf("%w: %q", ErrInvalidTopic, v)
		}
	}
	return nil
}
