package mqtt

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// events records handler callbacks in order.
type events struct {
	mu       sync.Mutex
	log      []string
	errs     []error
	commands []connpool.Command
}

func (e *events) handlers() connpool.Handlers {
	add := func(s string) func() {
		return func() {
			e.mu.Lock()
			e.log = append(e.log, s)
			e.mu.Unlock()
		}
	}
	return connpool.Handlers{
		OnConnect:    add("connect"),
		OnReconnect:  add("reconnect"),
		OnDisconnect: add("disconnect"),
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		},
		OnCommand: func(cmd connpool.Command) {
			e.mu.Lock()
			e.commands = append(e.commands, cmd)
			e.mu.Unlock()
		},
	}
}

func newTestClient(t *testing.T, mode connpool.Mode) (*Client, *events) {
	t.Helper()
	conn := deviceConn()
	conn.Mode = mode
	c, err := New(config.MQTTConfig{}, conn, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ev := &events{}
	c.SetHandlers(ev.handlers())
	return c, ev
}

func TestNewDialer(t *testing.T) {
	dial := NewDialer(config.MQTTConfig{}, nil)
	tr, err := dial(deviceConn())
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}
	if _, ok := tr.(*Client); !ok {
		t.Errorf("dial() returned %T, want *Client", tr)
	}
	if tr.IsConnected() {
		t.Error("new client reports connected")
	}
}

func TestNew_InvalidBrokerURL(t *testing.T) {
	_, err := New(config.MQTTConfig{BrokerURL: "tcp://bad host:%zz"}, deviceConn(), nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("New() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHandleConnect_FirstThenReconnect(t *testing.T) {
	c, ev := newTestClient(t, connpool.ModeDevice)

	c.handleConnect()
	c.handleDisconnect(errors.New("eof"))
	c.handleConnect()

	want := []string{"connect", "disconnect", "reconnect"}
	if len(ev.log) != len(want) {
		t.Fatalf("callbacks = %v, want %v", ev.log, want)
	}
	for i := range want {
		if ev.log[i] != want[i] {
			t.Errorf("callbacks[%d] = %s, want %s", i, ev.log[i], want[i])
		}
	}
	if len(ev.errs) != 1 || !errors.Is(ev.errs[0], ErrConnectionLost) {
		t.Errorf("errors = %v, want one ErrConnectionLost", ev.errs)
	}
}

func TestHandleDisconnect_NilErrorNotReported(t *testing.T) {
	c, ev := newTestClient(t, connpool.ModeDevice)
	c.handleDisconnect(nil)
	if len(ev.errs) != 0 {
		t.Errorf("errors = %v, want none", ev.errs)
	}
	if len(ev.log) != 1 || ev.log[0] != "disconnect" {
		t.Errorf("callbacks = %v", ev.log)
	}
}

func TestWrapHandler_DispatchesCommands(t *testing.T) {
	c, ev := newTestClient(t, connpool.ModeGateway)
	handler := c.wrapHandler(c.handleCommand)

	payload := []byte(`{"on":true}`)
	handler(nil, fakeMessage{topic: "iot-2/type/lamp/id/7/cmd/switch/fmt/json", payload: payload})
	payload[0] = 'X'

	// Not a command topic: logged and dropped.
	handler(nil, fakeMessage{topic: "iot-2/evt/status/fmt/json"})

	if len(ev.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(ev.commands))
	}
	cmd := ev.commands[0]
	if cmd.DeviceType != "lamp" || cmd.DeviceID != "7" || cmd.Command != "switch" || cmd.Format != "json" {
		t.Errorf("command = %+v", cmd)
	}
	if string(cmd.Payload) != `{"on":true}` {
		t.Errorf("payload = %s, want a copy of the original", cmd.Payload)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeDevice)
	handler := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})

	// Must not propagate.
	handler(nil, fakeMessage{topic: "iot-2/cmd/reset/fmt/json"})
}

func TestPublish_NotConnected(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeDevice)

	if err := c.Publish("status", "json", []byte("{}"), 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeGateway)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid qos", c.Publish("status", "json", nil, 3), ErrInvalidQoS},
		{"empty event", c.Publish("", "json", nil, 0), ErrInvalidTopic},
		{"wildcard event", c.Publish("+", "json", nil, 0), ErrInvalidTopic},
		{"multi-level format", c.Publish("status", "a/b", nil, 0), ErrInvalidTopic},
		{"oversized", c.Publish("status", "json", make([]byte, maxPayloadSize+1), 0), ErrPublishFailed},
		{"gateway wildcard device", c.PublishEvent("lamp", "#", "status", "json", nil, 0), ErrInvalidTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestGatewayOperations_OnDevice(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeDevice)

	if err := c.PublishEvent("lamp", "7", "status", "json", nil, 0); !errors.Is(err, ErrGatewayOnly) {
		t.Errorf("PublishEvent() error = %v, want ErrGatewayOnly", err)
	}
	if err := c.SubscribeToDeviceCommand("lamp", "+", "+", "+", 0); !errors.Is(err, ErrGatewayOnly) {
		t.Errorf("SubscribeToDeviceCommand() error = %v, want ErrGatewayOnly", err)
	}
	if err := c.UnsubscribeToDeviceCommand("lamp", "+", "+", "+"); !errors.Is(err, ErrGatewayOnly) {
		t.Errorf("UnsubscribeToDeviceCommand() error = %v, want ErrGatewayOnly", err)
	}
}

func TestSubscriptionTracking_WhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeGateway)

	if err := c.SubscribeToDeviceCommand("lamp", "+", "switch", "+", 1); err != nil {
		t.Fatalf("SubscribeToDeviceCommand() error = %v", err)
	}
	if err := c.SubscribeToDeviceCommand("lamp", "+", "switch", "+", 1); err != nil {
		t.Fatalf("duplicate SubscribeToDeviceCommand() error = %v", err)
	}

	topic := Topics{}.GatewayCommand("lamp", "+", "switch", "+")
	if got := c.refs(topic); got != 2 || len(c.subscriptions) != 1 {
		t.Errorf("refs(%s) = %d across %d topics, want 2 on one topic", topic, got, len(c.subscriptions))
	}

	if err := c.SubscribeToDeviceCommand("lamp", "+", "switch", "+", 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.SubscribeToDeviceCommand("lamp", "a/b", "switch", "+", 0); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("multi-level error = %v, want ErrInvalidTopic", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.UnsubscribeToDeviceCommand("lamp", "+", "switch", "+"); err != nil {
			t.Fatalf("UnsubscribeToDeviceCommand() error = %v", err)
		}
	}
	if got := c.refs(topic); got != 0 {
		t.Errorf("refs(%s) = %d after unsubscribing both, want 0", topic, got)
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	c, _ := newTestClient(t, connpool.ModeDevice)

	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
	// A closed client never dials.
	c.Connect(0)
	if c.client != nil {
		t.Error("Connect() after Disconnect() created a paho client")
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}
