package host_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/wiotp-relay/internal/command"
	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/connpool/connpooltest"
	"github.com/nerrad567/wiotp-relay/internal/credentials"
	"github.com/nerrad567/wiotp-relay/internal/event"
	"github.com/nerrad567/wiotp-relay/internal/host"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// recorder implements Broadcaster, Metrics and Telemetry.
type recorder struct {
	mu        sync.Mutex
	channels  map[string]int
	routed    map[string]int
	published map[string]int
	failed    map[string]int
	statuses  map[string]connpool.Status
	commands  []string
	events    []string
}

func newRecorder() *recorder {
	return &recorder{
		channels:  make(map[string]int),
		routed:    make(map[string]int),
		published: make(map[string]int),
		failed:    make(map[string]int),
		statuses:  make(map[string]connpool.Status),
	}
}

func (r *recorder) count(channel string) {
	r.mu.Lock()
	r.channels[channel]++
	r.mu.Unlock()
}

func (r *recorder) CommandRouted(command.Result)      { r.count(host.ChannelCommand) }
func (r *recorder) EventPublished(host.SendResult)    { r.count(host.ChannelEvent) }
func (r *recorder) StatusChanged(host.StatusChange)   { r.count(host.ChannelStatus) }

func (r *recorder) RecordCommandRouted(endpoint string) {
	r.mu.Lock()
	r.routed[endpoint]++
	r.mu.Unlock()
}

func (r *recorder) RecordEventPublished(endpoint, _ string, ok bool) {
	r.mu.Lock()
	if ok {
		r.published[endpoint]++
	} else {
		r.failed[endpoint]++
	}
	r.mu.Unlock()
}

func (r *recorder) RecordEndpointStatus(endpoint string, status connpool.Status) {
	r.mu.Lock()
	r.statuses[endpoint] = status
	r.mu.Unlock()
}

func (r *recorder) WriteCommand(endpoint, _, _, cmd, _ string, _ int) {
	r.mu.Lock()
	r.commands = append(r.commands, endpoint+":"+cmd)
	r.mu.Unlock()
}

func (r *recorder) WriteEvent(endpoint, ev, _ string, _ int, _ byte, _ bool) {
	r.mu.Lock()
	r.events = append(r.events, endpoint+":"+ev)
	r.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		Credentials: []config.CredentialConfig{
			{Name: "plant", Org: "abc123", DeviceType: "gw", DeviceID: "gw-1", AuthToken: "tok"},
		},
		Inbound: []config.InboundConfig{
			{ID: "in-reset", Name: "reset", Credentials: "plant", Scope: "device", Command: "reset"},
			{ID: "in-all", Name: "all", Credentials: "plant", Scope: "device"},
		},
		Outbound: []config.OutboundConfig{
			{ID: "out-status", Name: "status", Credentials: "plant", Scope: "device", Event: "status"},
		},
	}
}

func startFlow(t *testing.T, cfg *config.Config) (*host.Flow, *connpooltest.Dialer, *recorder) {
	t.Helper()
	dialer := &connpooltest.Dialer{}
	reg := connpool.NewRegistry(dialer.Dial)
	rec := newRecorder()
	f := host.New(cfg, reg,
		host.WithBroadcaster(rec),
		host.WithMetrics(rec),
		host.WithTelemetry(rec),
	)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.Stop)
	return f, dialer, rec
}

func TestStart_SharesConnection(t *testing.T) {
	f, dialer, _ := startFlow(t, testConfig())

	if dialer.Count() != 1 {
		t.Fatalf("transports = %d, want 1 shared device connection", dialer.Count())
	}
	if got := f.Registry().Users(dialer.Last().Config.Identity()); got != 3 {
		t.Errorf("users = %d, want 3", got)
	}

	eps := f.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("Endpoints() = %d, want 3", len(eps))
	}
	if eps[0].Kind != host.KindInbound || eps[0].Name != "all" || eps[1].Name != "reset" || eps[2].Kind != host.KindOutbound {
		t.Errorf("Endpoints() order = %+v", eps)
	}
	for _, ep := range eps {
		if ep.Status != connpool.StatusConnecting {
			t.Errorf("%s status = %s, want connecting", ep.Name, ep.Status)
		}
	}
}

func TestStart_StatusFanOut(t *testing.T) {
	f, dialer, rec := startFlow(t, testConfig())

	dialer.Last().FireConnect()

	for _, ep := range f.Endpoints() {
		if ep.Status != connpool.StatusConnected {
			t.Errorf("%s status = %s, want connected", ep.Name, ep.Status)
		}
		if rec.statuses[ep.Name] != connpool.StatusConnected {
			t.Errorf("metrics status for %s = %s", ep.Name, rec.statuses[ep.Name])
		}
	}
	// connecting + connected per endpoint
	if rec.channels[host.ChannelStatus] != 6 {
		t.Errorf("status broadcasts = %d, want 6", rec.channels[host.ChannelStatus])
	}
}

func TestCommandsFanOut(t *testing.T) {
	_, dialer, rec := startFlow(t, testConfig())
	tr := dialer.Last()
	tr.FireConnect()

	tr.FireCommand(connpool.Command{Command: "reset", Format: "json", Payload: []byte(`{}`)})
	tr.FireCommand(connpool.Command{Command: "reboot", Format: "text", Payload: []byte(`now`)})

	if rec.routed["reset"] != 1 || rec.routed["all"] != 2 {
		t.Errorf("routed = %v, want reset:1 all:2", rec.routed)
	}
	if rec.channels[host.ChannelCommand] != 3 {
		t.Errorf("command broadcasts = %d, want 3", rec.channels[host.ChannelCommand])
	}
	if len(rec.commands) != 3 {
		t.Errorf("telemetry commands = %v", rec.commands)
	}
}

func TestSend(t *testing.T) {
	f, dialer, rec := startFlow(t, testConfig())
	tr := dialer.Last()
	tr.FireConnect()

	res, err := f.Send(context.Background(), "out-status", event.Message{Payload: map[string]any{"ok": true}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Warning != "" || res.Outcome.Event != "status" {
		t.Errorf("Send() = %+v", res)
	}
	if len(tr.Published()) != 1 {
		t.Errorf("published = %d, want 1", len(tr.Published()))
	}

	tr.FailPublish(errors.New("broker gone"))
	res, err = f.Send(context.Background(), "out-status", event.Message{Payload: 1})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Warning == "" {
		t.Error("failed send has no warning")
	}

	if rec.published["status"] != 1 || rec.failed["status"] != 1 {
		t.Errorf("published=%v failed=%v", rec.published, rec.failed)
	}
	if rec.channels[host.ChannelEvent] != 2 || len(rec.events) != 2 {
		t.Errorf("event broadcasts = %d telemetry = %v", rec.channels[host.ChannelEvent], rec.events)
	}
}

func TestSend_UnknownEndpoint(t *testing.T) {
	f, _, _ := startFlow(t, testConfig())

	_, err := f.Send(context.Background(), "in-reset", event.Message{Payload: 1})
	if !errors.Is(err, host.ErrUnknownEndpoint) {
		t.Errorf("Send() error = %v, want ErrUnknownEndpoint", err)
	}
}

func TestStart_GeneratesIDs(t *testing.T) {
	cfg := testConfig()
	cfg.Inbound[0].ID = ""
	f, _, _ := startFlow(t, cfg)

	for _, ep := range f.Endpoints() {
		if ep.Name != "reset" {
			continue
		}
		if _, err := uuid.Parse(ep.ID); err != nil {
			t.Errorf("generated ID %q is not a UUID: %v", ep.ID, err)
		}
	}
}

func TestStart_SetupErrorStopsStarted(t *testing.T) {
	cfg := testConfig()
	cfg.Outbound = append(cfg.Outbound, config.OutboundConfig{ID: "broken", Name: "broken", Credentials: "missing"})

	dialer := &connpooltest.Dialer{}
	reg := connpool.NewRegistry(dialer.Dial)
	f := host.New(cfg, reg)

	err := f.Start(context.Background())
	if !errors.Is(err, credentials.ErrMissingCredentials) {
		t.Fatalf("Start() error = %v, want ErrMissingCredentials", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry has %d records after failed start", reg.Len())
	}
	if len(f.Endpoints()) != 0 {
		t.Errorf("Endpoints() = %v after failed start", f.Endpoints())
	}
}

func TestStart_InvalidScope(t *testing.T) {
	cfg := testConfig()
	cfg.Inbound[1].Scope = "mesh"

	f := host.New(cfg, connpool.NewRegistry((&connpooltest.Dialer{}).Dial))
	if err := f.Start(context.Background()); !errors.Is(err, command.ErrInvalidScope) {
		t.Errorf("Start() error = %v, want ErrInvalidScope", err)
	}
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := host.New(testConfig(), connpool.NewRegistry((&connpooltest.Dialer{}).Dial))
	if err := f.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestStart_Twice(t *testing.T) {
	f, _, _ := startFlow(t, testConfig())
	if err := f.Start(context.Background()); !errors.Is(err, host.ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStop(t *testing.T) {
	f, dialer, _ := startFlow(t, testConfig())

	f.Stop()
	f.Stop()

	if f.Registry().Len() != 0 {
		t.Errorf("registry has %d records after Stop", f.Registry().Len())
	}
	if dialer.Last().Disconnects() != 1 {
		t.Errorf("Disconnects = %d, want 1", dialer.Last().Disconnects())
	}
	if len(f.Endpoints()) != 0 {
		t.Error("endpoints remain after Stop")
	}
}
