package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/wiotp-relay/internal/command"
	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/credentials"
	"github.com/nerrad567/wiotp-relay/internal/event"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// Broadcast channels. Live clients subscribe to these by name.
const (
	ChannelCommand = "command.routed"
	ChannelEvent   = "event.published"
	ChannelStatus  = "endpoint.status"
)

// Endpoint kinds.
const (
	KindInbound  = "inbound"
	KindOutbound = "outbound"
)

// Logger is the logging interface used by the flow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broadcaster pushes relay activity to live clients, one method per
// broadcast channel.
type Broadcaster interface {
	// CommandRouted is called on ChannelCommand for every matched command.
	CommandRouted(res command.Result)

	// EventPublished is called on ChannelEvent after every send attempt.
	EventPublished(res SendResult)

	// StatusChanged is called on ChannelStatus for every endpoint status.
	StatusChanged(change StatusChange)
}

// Metrics counts relay activity.
type Metrics interface {
	RecordCommandRouted(endpoint string)
	RecordEventPublished(endpoint, format string, ok bool)
	RecordEndpointStatus(endpoint string, status connpool.Status)
}

// Telemetry records relay activity as time series.
type Telemetry interface {
	WriteCommand(endpoint, deviceType, deviceID, command, format string, size int)
	WriteEvent(endpoint, event, format string, size int, qos byte, ok bool)
}

// EndpointInfo is a read-only view of one endpoint.
type EndpointInfo struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Identity   string          `json:"identity"`
	Status     connpool.Status `json:"status"`
	Filter     string          `json:"filter,omitempty"`
	Quickstart bool            `json:"quickstart,omitempty"`
}

// StatusChange is broadcast on ChannelStatus.
type StatusChange struct {
	Endpoint string          `json:"endpoint"`
	Name     string          `json:"name"`
	Status   connpool.Status `json:"status"`
}

// SendResult is broadcast on ChannelEvent and returned by the API.
type SendResult struct {
	Endpoint string        `json:"endpoint"`
	Outcome  event.Outcome `json:"outcome"`
	Warning  string        `json:"warning,omitempty"`
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the flow's logger. It is also handed to every endpoint.
func WithLogger(logger Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithBroadcaster sets where routed commands and send results are pushed.
func WithBroadcaster(b Broadcaster) Option {
	return func(f *Flow) {
		f.broadcaster = b
	}
}

// WithMetrics sets the metrics collaborator.
func WithMetrics(m Metrics) Option {
	return func(f *Flow) {
		f.metrics = m
	}
}

// WithTelemetry sets the telemetry collaborator.
func WithTelemetry(t Telemetry) Option {
	return func(f *Flow) {
		f.telemetry = t
	}
}

type inbound struct {
	id     string
	router *command.Router
}

type outbound struct {
	id        string
	publisher *event.Publisher
}

// Flow runs the configured endpoints on a shared registry.
//
// Thread Safety:
//   - Start and Stop must not be called concurrently with each other.
//   - Send and Endpoints are safe for concurrent use.
type Flow struct {
	cfg *config.Config
	reg *connpool.Registry

	logger      Logger
	broadcaster Broadcaster
	metrics     Metrics
	telemetry   Telemetry

	nodes     []*credentials.Node
	inbound   []inbound
	outbound  []outbound
	byID      map[string]*event.Publisher
	mu        sync.RWMutex
	started   bool
	startedAt time.Time
}

// New creates a flow for cfg. Nothing connects until Start.
func New(cfg *config.Config, reg *connpool.Registry, opts ...Option) *Flow {
	f := &Flow{
		cfg:    cfg,
		reg:    reg,
		logger: noopLogger{},
		byID:   make(map[string]*event.Publisher),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start builds every credentials node and endpoint and attaches them to
// the registry.
//
// A setup error in any endpoint stops the endpoints already started and is
// returned. Connection failures are not setup errors; they surface as
// endpoint status.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.startedAt = time.Now()
	f.mu.Unlock()

	nodes := make(map[string]*credentials.Node, len(f.cfg.Credentials))
	for _, cc := range f.cfg.Credentials {
		node := &credentials.Node{
			Name:       cc.Name,
			Org:        cc.Org,
			DeviceType: cc.DeviceType,
			DeviceID:   cc.DeviceID,
			AuthToken:  cc.AuthToken,
			Domain:     cc.Domain,
		}
		nodes[cc.Name] = node
		f.nodes = append(f.nodes, node)
	}

	for _, ic := range f.cfg.Inbound {
		if err := ctx.Err(); err != nil {
			f.Stop()
			return err
		}
		if err := f.startInbound(ic, nodes[ic.Credentials]); err != nil {
			f.Stop()
			return fmt.Errorf("starting inbound %q: %w", ic.Name, err)
		}
	}

	for _, oc := range f.cfg.Outbound {
		if err := ctx.Err(); err != nil {
			f.Stop()
			return err
		}
		if err := f.startOutbound(oc, nodes[oc.Credentials]); err != nil {
			f.Stop()
			return fmt.Errorf("starting outbound %q: %w", oc.Name, err)
		}
	}

	f.logger.Info("flow started",
		"credentials", len(f.nodes),
		"inbound", len(f.cfg.Inbound),
		"outbound", len(f.cfg.Outbound),
	)
	return nil
}

func (f *Flow) startInbound(ic config.InboundConfig, node *credentials.Node) error {
	id := endpointID(ic.ID)
	name := ic.Name

	r, err := command.NewRouter(f.reg, command.RouterConfig{
		Name:        name,
		UserID:      id,
		Credentials: node,
		Scope:       command.Scope(ic.Scope),
		Target:      command.Target(ic.Target),
		DeviceType:  ic.DeviceType,
		DeviceID:    ic.DeviceID,
		Command:     ic.Command,
		QoS:         ic.QoS,
		KeepAlive:   time.Duration(ic.KeepAlive) * time.Second,
	},
		f.deliver(id),
		command.WithLogger(f.logger),
		command.WithStatusSink(f.statusSink(id, name)),
	)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.inbound = append(f.inbound, inbound{id: id, router: r})
	f.mu.Unlock()
	return nil
}

func (f *Flow) startOutbound(oc config.OutboundConfig, node *credentials.Node) error {
	id := endpointID(oc.ID)
	name := oc.Name

	p, err := event.NewPublisher(f.reg, event.PublisherConfig{
		Name:               name,
		UserID:             id,
		Credentials:        node,
		Quickstart:         oc.Quickstart,
		QuickstartDeviceID: oc.QuickstartDeviceID,
		Scope:              event.Scope(oc.Scope),
		DeviceType:         oc.DeviceType,
		DeviceID:           oc.DeviceID,
		Event:              oc.Event,
		Format:             oc.Format,
		QoS:                oc.QoS,
		KeepAlive:          time.Duration(oc.KeepAlive) * time.Second,
	},
		event.WithLogger(f.logger),
		event.WithStatusSink(f.statusSink(id, name)),
	)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.outbound = append(f.outbound, outbound{id: id, publisher: p})
	f.byID[id] = p
	f.mu.Unlock()
	return nil
}

// endpointID returns the configured ID, or a generated one.
func endpointID(configured string) string {
	if configured != "" {
		return configured
	}
	return uuid.NewString()
}

// statusSink logs an endpoint's status and forwards it to the collaborators.
func (f *Flow) statusSink(id, name string) connpool.StatusSink {
	return func(s connpool.Status) {
		f.logger.Info("endpoint status", "endpoint", name, "id", id, "state", s, "label", statusLabel(s))
		if f.metrics != nil {
			f.metrics.RecordEndpointStatus(name, s)
		}
		if f.broadcaster != nil {
			f.broadcaster.StatusChanged(StatusChange{Endpoint: id, Name: name, Status: s})
		}
	}
}

// statusLabel is the human-readable text for a status.
func statusLabel(s connpool.Status) string {
	switch s {
	case connpool.StatusConnecting:
		return "connecting"
	case connpool.StatusConnected:
		return "connected"
	case connpool.StatusDisconnected:
		return "disconnected"
	default:
		return string(s)
	}
}

// deliver returns the sink for one inbound endpoint.
func (f *Flow) deliver(id string) command.Sink {
	return func(res command.Result) {
		f.logger.Debug("command routed",
			"endpoint", res.Endpoint,
			"id", id,
			"command", res.Command,
			"format", res.Format,
			"bytes", res.Size,
		)
		if f.metrics != nil {
			f.metrics.RecordCommandRouted(res.Endpoint)
		}
		if f.telemetry != nil {
			f.telemetry.WriteCommand(res.Endpoint, res.DeviceType, res.DeviceID, res.Command, res.Format, res.Size)
		}
		if f.broadcaster != nil {
			f.broadcaster.CommandRouted(res)
		}
	}
}

// Send publishes msg through the outbound endpoint with the given ID.
//
// Returns ErrUnknownEndpoint if no such endpoint exists. Transmission
// problems are reported in the result's Warning, never as an error.
func (f *Flow) Send(ctx context.Context, id string, msg event.Message) (SendResult, error) {
	f.mu.RLock()
	p, ok := f.byID[id]
	f.mu.RUnlock()
	if !ok {
		return SendResult{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}

	out := p.Send(ctx, msg)
	res := SendResult{Endpoint: id, Outcome: out}
	if out.Warning != nil {
		res.Warning = out.Warning.Error()
	}

	if f.metrics != nil {
		f.metrics.RecordEventPublished(p.Name(), out.Format, out.Sent())
	}
	if f.telemetry != nil {
		f.telemetry.WriteEvent(p.Name(), out.Event, out.Format, out.Bytes, out.QoS, out.Sent())
	}
	if f.broadcaster != nil {
		f.broadcaster.EventPublished(res)
	}
	return res, nil
}

// Endpoints returns every running endpoint, sorted by kind then name.
func (f *Flow) Endpoints() []EndpointInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]EndpointInfo, 0, len(f.inbound)+len(f.outbound))
	for _, in := range f.inbound {
		out = append(out, EndpointInfo{
			ID:       in.id,
			Name:     in.router.Name(),
			Kind:     KindInbound,
			Identity: in.router.Identity(),
			Status:   in.router.Status(),
			Filter:   in.router.Filter().String(),
		})
	}
	for _, o := range f.outbound {
		out = append(out, EndpointInfo{
			ID:         o.id,
			Name:       o.publisher.Name(),
			Kind:       KindOutbound,
			Identity:   o.publisher.Identity(),
			Status:     o.publisher.Status(),
			Quickstart: o.publisher.Quickstart(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Registry returns the shared connection registry.
func (f *Flow) Registry() *connpool.Registry {
	return f.reg
}

// Uptime returns how long the flow has been running.
func (f *Flow) Uptime() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.started {
		return 0
	}
	return time.Since(f.startedAt)
}

// Stop closes every endpoint in reverse start order, then destroys the
// connections of every credentials node. Safe to call more than once.
func (f *Flow) Stop() {
	f.mu.Lock()
	outs := f.outbound
	ins := f.inbound
	nodes := f.nodes
	f.outbound = nil
	f.inbound = nil
	f.nodes = nil
	f.byID = make(map[string]*event.Publisher)
	f.mu.Unlock()

	for i := len(outs) - 1; i >= 0; i-- {
		outs[i].publisher.Close()
	}
	for i := len(ins) - 1; i >= 0; i-- {
		ins[i].router.Close()
	}
	for _, node := range nodes {
		node.Close(f.reg)
	}

	if len(outs)+len(ins) > 0 {
		f.logger.Info("flow stopped", "inbound", len(ins), "outbound", len(outs))
	}
}
