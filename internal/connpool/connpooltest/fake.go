// Package connpooltest provides an in-memory Transport and Dialer for tests
// of code built on connpool.
package connpooltest

import (
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// Published records one Publish or PublishEvent call.
type Published struct {
	DeviceType string
	DeviceID   string
	Event      string
	Format     string
	Payload    []byte
	QoS        byte
	Gateway    bool
}

// Subscription records one command subscription.
type Subscription struct {
	DeviceType string
	DeviceID   string
	Command    string
	Format     string
	QoS        byte
}

// Transport is a scripted connpool.Transport.
//
// Connect only records the call; tests drive lifecycle events explicitly with
// FireConnect, FireDisconnect, FireReconnect, FireError and FireCommand.
type Transport struct {
	Config connpool.Config

	mu            sync.Mutex
	handlers      connpool.Handlers
	keepAlive     time.Duration
	connectQoS    byte
	connectCalls  int
	disconnects   int
	connected     bool
	published     []Published
	subscribed    []Subscription
	unsubscribed  []Subscription
	holds         map[Subscription]int
	publishErr    error
	disconnectErr error
	subscribeErr  error
	panicOnDiscon bool
}

// SetHandlers implements connpool.Transport.
func (t *Transport) SetHandlers(h connpool.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// SetKeepAlive implements connpool.Transport.
func (t *Transport) SetKeepAlive(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keepAlive = d
}

// Connect implements connpool.Transport.
func (t *Transport) Connect(qos byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCalls++
	t.connectQoS = qos
}

// Disconnect implements connpool.Transport.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.disconnects++
	t.connected = false
	err := t.disconnectErr
	panicking := t.panicOnDiscon
	t.mu.Unlock()
	if panicking {
		panic("disconnect exploded")
	}
	return err
}

// IsConnected implements connpool.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Publish implements connpool.Transport.
func (t *Transport) Publish(event, format string, payload []byte, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, Published{Event: event, Format: format, Payload: payload, QoS: qos})
	return nil
}

// PublishEvent implements connpool.Transport.
func (t *Transport) PublishEvent(deviceType, deviceID, event, format string, payload []byte, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, Published{
		DeviceType: deviceType,
		DeviceID:   deviceID,
		Event:      event,
		Format:     format,
		Payload:    payload,
		QoS:        qos,
		Gateway:    true,
	})
	return nil
}

// SubscribeToDeviceCommand implements connpool.Transport.
func (t *Transport) SubscribeToDeviceCommand(deviceType, deviceID, command, format string, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	t.subscribed = append(t.subscribed, Subscription{deviceType, deviceID, command, format, qos})
	if t.holds == nil {
		t.holds = make(map[Subscription]int)
	}
	t.holds[Subscription{deviceType, deviceID, command, format, 0}]++
	return nil
}

// UnsubscribeToDeviceCommand implements connpool.Transport.
func (t *Transport) UnsubscribeToDeviceCommand(deviceType, deviceID, command, format string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := Subscription{deviceType, deviceID, command, format, 0}
	t.unsubscribed = append(t.unsubscribed, sub)
	if t.holds[sub] > 1 {
		t.holds[sub]--
	} else {
		delete(t.holds, sub)
	}
	return nil
}

// FireConnect marks the transport connected and fires OnConnect.
func (t *Transport) FireConnect() {
	t.mu.Lock()
	t.connected = true
	h := t.handlers.OnConnect
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

// FireDisconnect marks the transport disconnected and fires OnDisconnect.
func (t *Transport) FireDisconnect() {
	t.mu.Lock()
	t.connected = false
	h := t.handlers.OnDisconnect
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

// FireReconnect marks the transport connected and fires OnReconnect.
func (t *Transport) FireReconnect() {
	t.mu.Lock()
	t.connected = true
	h := t.handlers.OnReconnect
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

// FireError fires OnError.
func (t *Transport) FireError(err error) {
	t.mu.Lock()
	h := t.handlers.OnError
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// FireCommand fires OnCommand.
func (t *Transport) FireCommand(cmd connpool.Command) {
	t.mu.Lock()
	h := t.handlers.OnCommand
	t.mu.Unlock()
	if h != nil {
		h(cmd)
	}
}

// SetConnected sets the connection flag without firing events.
func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

// FailPublish makes subsequent publishes return err (nil clears it).
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishErr = err
}

// FailSubscribe makes subsequent subscribes return err (nil clears it).
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeErr = err
}

// FailDisconnect makes Disconnect return err.
func (t *Transport) FailDisconnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectErr = err
}

// PanicOnDisconnect makes Disconnect panic.
func (t *Transport) PanicOnDisconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.panicOnDiscon = true
}

// ConnectCalls returns how many times Connect was called.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// ConnectQoS returns the QoS passed to the last Connect.
func (t *Transport) ConnectQoS() byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectQoS
}

// KeepAlive returns the configured keep-alive interval.
func (t *Transport) KeepAlive() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keepAlive
}

// Disconnects returns how many times Disconnect was called.
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Published returns a copy of all recorded publishes.
func (t *Transport) Published() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Published(nil), t.published...)
}

// Subscribed returns a copy of all recorded subscriptions.
func (t *Transport) Subscribed() []Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Subscription(nil), t.subscribed...)
}

// Active returns the filters still held by at least one subscriber, with
// QoS zeroed.
func (t *Transport) Active() []Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	var active []Subscription
	for sub := range t.holds {
		active = append(active, sub)
	}
	return active
}

// Unsubscribed returns a copy of all recorded unsubscriptions.
func (t *Transport) Unsubscribed() []Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Subscription(nil), t.unsubscribed...)
}

// ErrDialRefused is returned by a Dialer configured with Refuse.
var ErrDialRefused = errors.New("connpooltest: dial refused")

// Dialer builds fake transports and counts constructions.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	refuse     bool
}

// Refuse makes subsequent dials fail with ErrDialRefused.
func (d *Dialer) Refuse() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = true
}

// Dial implements connpool.Dialer.
func (d *Dialer) Dial(cfg connpool.Config) (connpool.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse {
		return nil, ErrDialRefused
	}
	t := &Transport{Config: cfg}
	d.transports = append(d.transports, t)
	return t, nil
}

// Count returns how many transports were constructed.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recently constructed transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Transports returns all constructed transports in order.
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.transports...)
}
