package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// TopicRoot is the first level of every platform topic.
const TopicRoot = "iot-2"

// Topics provides builders for platform MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceEvent("status", "json")
//	// Returns: "iot-2/evt/status/fmt/json"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceEvent returns the topic a device publishes its own events on.
//
// Example: iot-2/evt/status/fmt/json
func (Topics) DeviceEvent(event, format string) string {
	return fmt.Sprintf("%s/evt/%s/fmt/%s", TopicRoot, event, format)
}

// DeviceCommand returns the topic a device receives one command on.
//
// Example: iot-2/cmd/reset/fmt/json
func (Topics) DeviceCommand(command, format string) string {
	return fmt.Sprintf("%s/cmd/%s/fmt/%s", TopicRoot, command, format)
}

// AllDeviceCommands returns the pattern a device subscribes to for every
// command addressed to it.
//
// Pattern: iot-2/cmd/+/fmt/+
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommand("+", "+")
}

// =============================================================================
// Gateway Topics
// =============================================================================

// GatewayEvent returns the topic a gateway publishes on behalf of a device.
//
// Example: iot-2/type/sensor/id/001/evt/status/fmt/json
func (Topics) GatewayEvent(deviceType, deviceID, event, format string) string {
	return fmt.Sprintf("%s/type/%s/id/%s/evt/%s/fmt/%s", TopicRoot, deviceType, deviceID, event, format)
}

// GatewayCommand returns the topic a gateway receives device commands on.
// Any field may be the "+" wildcard.
//
// Example: iot-2/type/sensor/id/+/cmd/reset/fmt/+
func (Topics) GatewayCommand(deviceType, deviceID, command, format string) string {
	return fmt.Sprintf("%s/type/%s/id/%s/cmd/%s/fmt/%s", TopicRoot, deviceType, deviceID, command, format)
}

// =============================================================================
// Parsing
// =============================================================================

// ParseCommand extracts the command fields from an inbound command topic of
// either the device or the gateway shape. Device commands leave DeviceType
// and DeviceID empty.
//
// Returns ok=false if the topic is not a command topic.
func ParseCommand(topic string) (cmd connpool.Command, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) == 0 || parts[0] != TopicRoot {
		return connpool.Command{}, false
	}

	switch len(parts) {
	case 5:
		// iot-2/cmd/<command>/fmt/<format>
		if parts[1] != "cmd" || parts[3] != "fmt" {
			return connpool.Command{}, false
		}
		cmd = connpool.Command{Command: parts[2], Format: parts[4]}
	case 9:
		// iot-2/type/<type>/id/<id>/cmd/<command>/fmt/<format>
		if parts[1] != "type" || parts[3] != "id" || parts[5] != "cmd" || parts[7] != "fmt" {
			return connpool.Command{}, false
		}
		cmd = connpool.Command{
			DeviceType: parts[2],
			DeviceID:   parts[4],
			Command:    parts[6],
			Format:     parts[8],
		}
	default:
		return connpool.Command{}, false
	}

	if cmd.Command == "" || cmd.Format == "" {
		return connpool.Command{}, false
	}
	cmd.Topic = topic
	return cmd, true
}
