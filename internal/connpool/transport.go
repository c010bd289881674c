package connpool

import "time"

// Transport is the physical client for one identity.
//
// Implementations own the wire protocol, including reconnect backoff. Connect
// must return without waiting for the network; outcomes are reported through
// the Handlers installed with SetHandlers.
type Transport interface {
	// SetHandlers installs the event callbacks. Called once, before Connect.
	SetHandlers(h Handlers)

	// SetKeepAlive sets the keep-alive interval. Called once, before Connect.
	SetKeepAlive(d time.Duration)

	// Connect starts connecting with the given QoS for command subscriptions.
	Connect(qos byte)

	// Disconnect closes the connection and stops reconnect attempts.
	Disconnect() error

	// IsConnected reports whether the connection is currently up.
	IsConnected() bool

	// Publish sends a device event.
	Publish(event, format string, payload []byte, qos byte) error

	// PublishEvent sends an event on behalf of a device behind a gateway.
	PublishEvent(deviceType, deviceID, event, format string, payload []byte, qos byte) error

	// SubscribeToDeviceCommand subscribes a gateway to commands for a device.
	// Subscriptions are counted per filter, since several users of a shared
	// connection may hold the same one; each command is delivered once
	// however many filters match it.
	SubscribeToDeviceCommand(deviceType, deviceID, command, format string, qos byte) error

	// UnsubscribeToDeviceCommand releases one hold on a gateway command
	// subscription. The filter stays active until every hold is released.
	UnsubscribeToDeviceCommand(deviceType, deviceID, command, format string) error
}

// Handlers are the transport event callbacks.
//
// OnConnect fires the first time the connection comes up, OnReconnect on
// every later successful connect, OnDisconnect whenever an established
// connection is lost. OnError reports failures that do not by themselves
// change the connection state.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnReconnect  func()
	OnError      func(err error)
	OnCommand    func(cmd Command)
}

// Command is an inbound command delivered by the transport.
//
// DeviceType and DeviceID are empty for commands received by a plain device
// connection; gateway connections always set them.
type Command struct {
	DeviceType string
	DeviceID   string
	Command    string
	Format     string
	Payload    []byte
	Topic      string
}

// Dialer constructs a transport for a connection config.
// cfg.Mode selects the device or gateway variant.
type Dialer func(cfg Config) (Transport, error)
