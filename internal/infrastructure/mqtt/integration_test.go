//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// Integration tests for the platform client against a plain broker.
// These tests require a running MQTT broker at 127.0.0.1:1883 that accepts
// any username.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...
//
// Note: Some tests may be flaky in CI due to timing dependencies.
// Consider running with: go test -tags=integration -count=1 -v ...

const integrationBroker = "tcp://127.0.0.1:1883"

func integrationConfig() config.MQTTConfig {
	return config.MQTTConfig{
		BrokerURL:      integrationBroker,
		ConnectTimeout: 5,
		PublishTimeout: 5,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectClient connects a platform client and waits for OnConnect.
func connectClient(t *testing.T, conn connpool.Config, onCommand func(connpool.Command)) *Client {
	t.Helper()

	c, err := New(integrationConfig(), conn, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	connected := make(chan struct{})
	var once sync.Once
	c.SetHandlers(connpool.Handlers{
		OnConnect: func() { once.Do(func() { close(connected) }) },
		OnCommand: onCommand,
		OnError:   func(err error) { t.Logf("OnError: %v", err) },
	})
	c.Connect(1)
	t.Cleanup(func() { _ = c.Disconnect() })

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for OnConnect")
	}
	return c
}

// rawClient connects a plain paho client for injecting and observing traffic.
func rawClient(t *testing.T, id string) pahomqtt.Client {
	t.Helper()
	opts := pahomqtt.NewClientOptions().AddBroker(integrationBroker).SetClientID(id)
	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("raw connect error = %v", token.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })
	return client
}

// TestIntegration_DeviceCommand verifies a device receives its commands.
func TestIntegration_DeviceCommand(t *testing.T) {
	received := make(chan connpool.Command, 1)
	conn := connpool.Config{Org: "itest", DeviceType: "sensor", DeviceID: "dev-cmd", AuthToken: "x", Mode: connpool.ModeDevice}
	connectClient(t, conn, func(cmd connpool.Command) {
		select {
		case received <- cmd:
		default:
		}
	})

	// The subscription is made asynchronously on connect.
	time.Sleep(200 * time.Millisecond)

	raw := rawClient(t, "wiotp-int-cmd-injector")
	raw.Publish(Topics{}.DeviceCommand("reset", "json"), 1, false, `{"delay":5}`).Wait()

	select {
	case cmd := <-received:
		if cmd.Command != "reset" || cmd.Format != "json" || string(cmd.Payload) != `{"delay":5}` {
			t.Errorf("command = %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}
}

// TestIntegration_GatewayCommand verifies gateway subscriptions deliver
// commands for devices behind the gateway.
func TestIntegration_GatewayCommand(t *testing.T) {
	received := make(chan connpool.Command, 1)
	conn := connpool.Config{Org: "itest", DeviceType: "gw", DeviceID: "gw-int", AuthToken: "x", Mode: connpool.ModeGateway}
	c := connectClient(t, conn, func(cmd connpool.Command) {
		select {
		case received <- cmd:
		default:
		}
	})

	if err := c.SubscribeToDeviceCommand("lamp", "+", "switch", "+", 1); err != nil {
		t.Fatalf("SubscribeToDeviceCommand() error = %v", err)
	}

	raw := rawClient(t, "wiotp-int-gw-injector")
	raw.Publish(Topics{}.GatewayCommand("lamp", "7", "switch", "text"), 1, false, "on").Wait()

	select {
	case cmd := <-received:
		if cmd.DeviceType != "lamp" || cmd.DeviceID != "7" || string(cmd.Payload) != "on" {
			t.Errorf("command = %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}

	if err := c.UnsubscribeToDeviceCommand("lamp", "+", "switch", "+"); err != nil {
		t.Errorf("UnsubscribeToDeviceCommand() error = %v", err)
	}
}

// TestIntegration_OverlappingGatewayFilters verifies a command matching two
// subscribed filters reaches OnCommand once.
func TestIntegration_OverlappingGatewayFilters(t *testing.T) {
	var mu sync.Mutex
	var got []connpool.Command
	conn := connpool.Config{Org: "itest", DeviceType: "gw", DeviceID: "gw-overlap", AuthToken: "x", Mode: connpool.ModeGateway}
	c := connectClient(t, conn, func(cmd connpool.Command) {
		mu.Lock()
		got = append(got, cmd)
		mu.Unlock()
	})

	if err := c.SubscribeToDeviceCommand("+", "+", "reset", "+", 1); err != nil {
		t.Fatalf("SubscribeToDeviceCommand(any reset) error = %v", err)
	}
	if err := c.SubscribeToDeviceCommand("dev1", "001", "+", "+", 1); err != nil {
		t.Fatalf("SubscribeToDeviceCommand(dev1/001) error = %v", err)
	}

	raw := rawClient(t, "wiotp-int-overlap-injector")
	raw.Publish(Topics{}.GatewayCommand("dev1", "001", "reset", "json"), 1, false, "{}").Wait()

	// Allow any duplicate to arrive before counting.
	time.Sleep(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("OnCommand calls = %d, want 1", len(got))
	}
}

// TestIntegration_EventRoundtrip verifies device and gateway events reach
// the broker on the platform topics.
func TestIntegration_EventRoundtrip(t *testing.T) {
	raw := rawClient(t, "wiotp-int-evt-observer")
	topics := make(chan string, 2)
	token := raw.Subscribe("iot-2/#", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if msg.Topic() == "iot-2/evt/status/fmt/json" || msg.Topic() == "iot-2/type/lamp/id/7/evt/power/fmt/text" {
			topics <- msg.Topic()
		}
	})
	token.Wait()

	device := connectClient(t, connpool.Config{Org: "itest", DeviceType: "sensor", DeviceID: "dev-evt", AuthToken: "x"}, nil)
	gateway := connpool.Config{Org: "itest", DeviceType: "gw", DeviceID: "gw-evt", AuthToken: "x", Mode: connpool.ModeGateway}
	gw := connectClient(t, gateway, nil)

	if err := device.Publish("status", "json", []byte(`{"d":{"ok":true}}`), 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := gw.PublishEvent("lamp", "7", "power", "text", []byte("12"), 1); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case topic := <-topics:
			seen[topic] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for events, saw %v", seen)
		}
	}
}
