package connpool

import "sync"

// Handle is one user's attachment to a shared connection.
//
// Each endpoint owns exactly one Handle and calls Release on teardown.
// Release is idempotent.
type Handle struct {
	reg      *Registry
	identity string
	m        *member
	conn     *Conn
	once     sync.Once
}

// Conn returns the shared connection.
func (h *Handle) Conn() *Conn {
	return h.conn
}

// Identity returns the connection identity.
func (h *Handle) Identity() string {
	return h.identity
}

// UserID returns the attached user ID.
func (h *Handle) UserID() string {
	return h.m.UserID
}

// Released reports whether this attachment no longer receives notifications,
// either because Release was called or the connection was destroyed.
func (h *Handle) Released() bool {
	return h.m.detached.Load()
}

// Release detaches the user. The connection is closed if this was its last user.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.reg.release(h.identity, h.m.UserID, h.m)
		h.m.detach()
	})
}

// Conn is the shared connection as seen by its users.
//
// Methods delegate to the transport until the record is released or
// destroyed, after which they return ErrConnectionClosed.
type Conn struct {
	rec *record
}

// Identity returns the connection identity.
func (c *Conn) Identity() string {
	return c.rec.identity
}

// Config returns the connection config.
func (c *Conn) Config() Config {
	return c.rec.cfg
}

// IsConnected reports whether the transport is currently connected.
func (c *Conn) IsConnected() bool {
	if c.closed() {
		return false
	}
	return c.rec.transport.IsConnected()
}

// Publish sends a device event.
func (c *Conn) Publish(event, format string, payload []byte, qos byte) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.rec.transport.Publish(event, format, payload, qos)
}

// PublishEvent sends an event on behalf of a device behind a gateway.
func (c *Conn) PublishEvent(deviceType, deviceID, event, format string, payload []byte, qos byte) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.rec.transport.PublishEvent(deviceType, deviceID, event, format, payload, qos)
}

// SubscribeToDeviceCommand subscribes a gateway connection to device commands.
func (c *Conn) SubscribeToDeviceCommand(deviceType, deviceID, command, format string, qos byte) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.rec.transport.SubscribeToDeviceCommand(deviceType, deviceID, command, format, qos)
}

// UnsubscribeToDeviceCommand removes a gateway command subscription.
func (c *Conn) UnsubscribeToDeviceCommand(deviceType, deviceID, command, format string) error {
	if c.closed() {
		return ErrConnectionClosed
	}
	return c.rec.transport.UnsubscribeToDeviceCommand(deviceType, deviceID, command, format)
}

func (c *Conn) closed() bool {
	c.rec.mu.Lock()
	defer c.rec.mu.Unlock()
	return c.rec.closed
}
