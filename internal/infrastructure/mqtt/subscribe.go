package mqtt

import (
	"fmt"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// SubscribeToDeviceCommand subscribes a gateway to commands for devices
// behind it. Any field may be the "+" wildcard.
//
// Subscriptions are reference-counted per topic: several users of one
// shared connection may subscribe the same filter, and the broker is only
// asked again when the topic is new or the requested QoS is higher. The
// topic is tracked and restored on every reconnect. When the client is not
// connected it is only tracked, and made on the next connect.
//
// Matching commands are delivered once through OnCommand however many
// tracked filters match them.
//
// Returns:
//   - error: ErrGatewayOnly on a device connection, or a wrapped
//     ErrSubscribeFailed if the broker rejects or does not acknowledge it
func (c *Client) SubscribeToDeviceCommand(deviceType, deviceID, command, format string, qos byte) error {
	if c.conn.Mode != connpool.ModeGateway {
		return ErrGatewayOnly
	}
	if err := validateLevels(true, deviceType, deviceID, command, format); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	topic := Topics{}.GatewayCommand(deviceType, deviceID, command, format)
	if !c.track(topic, qos) || !c.IsConnected() {
		return nil
	}

	// A nil callback leaves dispatch to the default publish handler, so
	// overlapping filters do not deliver a command twice.
	token := c.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(c.publishTimeout) {
		c.untrack(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// UnsubscribeToDeviceCommand drops one reference to a gateway command
// subscription. The broker is unsubscribed when the last reference goes.
//
// After unsubscribing, messages in flight may still be delivered.
func (c *Client) UnsubscribeToDeviceCommand(deviceType, deviceID, command, format string) error {
	if c.conn.Mode != connpool.ModeGateway {
		return ErrGatewayOnly
	}
	if err := validateLevels(true, deviceType, deviceID, command, format); err != nil {
		return err
	}

	topic := Topics{}.GatewayCommand(deviceType, deviceID, command, format)
	if remaining := c.untrack(topic); remaining > 0 {
		c.logger.Info("gateway subscription still shared",
			"client_id", ClientID(c.conn),
			"topic", topic,
			"refs", remaining,
		)
		return nil
	}

	// Clean sessions drop subscriptions with the connection.
	if !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// track adds a reference to topic and reports whether the broker needs a
// SUBSCRIBE for it.
func (c *Client) track(topic string, qos byte) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subscriptions[topic]
	if !ok {
		c.subscriptions[topic] = &subscription{topic: topic, qos: qos, refs: 1}
		return true
	}
	sub.refs++
	if qos > sub.qos {
		sub.qos = qos
		return true
	}
	return false
}

// untrack drops a reference to topic and returns how many remain.
func (c *Client) untrack(topic string) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subscriptions[topic]
	if !ok {
		return 0
	}
	sub.refs--
	if sub.refs > 0 {
		return sub.refs
	}
	delete(c.subscriptions, topic)
	return 0
}

// refs returns the reference count for an exact topic string.
func (c *Client) refs(topic string) int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if sub, ok := c.subscriptions[topic]; ok {
		return sub.refs
	}
	return 0
}
