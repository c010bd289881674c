package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/credentials"
)

// Scope selects whether a router acts as the device or on behalf of devices
// behind a gateway.
type Scope string

// Router scopes.
const (
	ScopeDevice  Scope = "device"
	ScopeGateway Scope = "gateway"
)

// Target selects which devices a gateway-scoped router listens for.
type Target string

// Gateway targets.
const (
	// TargetAll uses the gateway's own type and ID.
	TargetAll Target = "all"

	// TargetDevice uses the explicitly configured type and ID.
	TargetDevice Target = "device"
)

const (
	// DefaultKeepAlive is used when RouterConfig.KeepAlive is unset.
	DefaultKeepAlive = 60 * time.Second

	// subscribeFormat subscribes to commands in every format.
	subscribeFormat = "+"

	formatJSON = "json"
)

// Logger defines the logging interface used by the Router.
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

// RouterConfig configures one inbound endpoint.
type RouterConfig struct {
	// Name labels the endpoint in logs and results.
	Name string

	// UserID identifies the endpoint to the connection registry.
	UserID string

	Credentials *credentials.Node
	Scope       Scope
	Target      Target

	// DeviceType and DeviceID are used for ScopeGateway with TargetDevice.
	DeviceType string
	DeviceID   string

	// Command is the command name to listen for. Empty means any.
	Command string

	// QoS for the subscription. Values outside 0..2 become 0.
	QoS int

	KeepAlive time.Duration
}

// Result is one matched inbound command.
type Result struct {
	Endpoint string `json:"endpoint"`
	Topic    string `json:"topic"`

	// Payload is the decoded JSON value for format "json" when decoding
	// succeeds, otherwise the payload text.
	Payload any    `json:"payload"`
	Command string `json:"command"`
	Format  string `json:"format"`

	// DeviceType and DeviceID are set for gateway-scoped routers only.
	DeviceType string `json:"device_type,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`

	// Size is the raw payload length in bytes.
	Size int `json:"size"`
}

// Sink receives matched commands. It is called from the transport's
// delivery goroutine and must not block for long.
type Sink func(Result)

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithStatusSink forwards connection status changes to sink.
func WithStatusSink(sink connpool.StatusSink) Option {
	return func(r *Router) {
		r.statusSink = sink
	}
}

// Router is an inbound command endpoint.
type Router struct {
	name       string
	scope      Scope
	filter     Filter
	qos        byte
	out        Sink
	logger     Logger
	statusSink connpool.StatusSink
	status     atomic.Value // connpool.Status

	handle    *connpool.Handle
	closeOnce sync.Once

	// subMu guards subscribed and closed so Close releases exactly the
	// gateway subscription this router holds.
	subMu      sync.Mutex
	subscribed bool
	closed     bool
}

// NewRouter validates cfg, joins the shared connection and starts routing
// matching commands to out.
//
// Setup errors (missing credentials, bad scope or filter) are returned and
// the router never attaches to the registry.
func NewRouter(reg *connpool.Registry, cfg RouterConfig, out Sink, opts ...Option) (*Router, error) {
	if out == nil {
		return nil, ErrMissingSink
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}

	filter, mode, err := resolveFilter(cfg)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		name:   cfg.Name,
		scope:  cfg.Scope,
		filter: filter,
		qos:    clampQoS(cfg.QoS),
		out:    out,
		logger: noopLogger{},
	}
	if r.scope == "" {
		r.scope = ScopeDevice
	}
	for _, opt := range opts {
		opt(r)
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	handle, err := reg.Acquire(connpool.AcquireRequest{
		Config:    cfg.Credentials.ConnConfig(mode),
		KeepAlive: keepAlive,
		QoS:       r.qos,
		Attachment: connpool.Attachment{
			UserID:   cfg.UserID,
			Status:   r.setStatus,
			Ready:    r.ready,
			Commands: r.route,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for %s: %w", cfg.Name, err)
	}
	r.handle = handle

	r.logger.Info("command router attached",
		"endpoint", r.name,
		"scope", r.scope,
		"filter", r.filter.String(),
		"qos", r.qos,
	)
	return r, nil
}

// resolveFilter derives the filter and connection mode from the scope.
func resolveFilter(cfg RouterConfig) (Filter, connpool.Mode, error) {
	command := cfg.Command
	if command == "" {
		command = Wildcard
	}

	switch cfg.Scope {
	case ScopeDevice, "":
		return DeviceFilter(command), connpool.ModeDevice, nil
	case ScopeGateway:
		switch cfg.Target {
		case TargetAll, "":
			return Filter{
				DeviceType: cfg.Credentials.DeviceType,
				DeviceID:   cfg.Credentials.DeviceID,
				Command:    command,
			}, connpool.ModeGateway, nil
		case TargetDevice:
			return Filter{
				DeviceType: cfg.DeviceType,
				DeviceID:   cfg.DeviceID,
				Command:    command,
			}, connpool.ModeGateway, nil
		default:
			return Filter{}, "", fmt.Errorf("%w: target %q", ErrInvalidScope, cfg.Target)
		}
	default:
		return Filter{}, "", fmt.Errorf("%w: scope %q", ErrInvalidScope, cfg.Scope)
	}
}

// ready runs once, the first time the shared connection is up.
func (r *Router) ready(conn *connpool.Conn) {
	if r.scope != ScopeGateway {
		return
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed {
		return
	}
	w := r.filter.Wire()
	if err := conn.SubscribeToDeviceCommand(w.DeviceType, w.DeviceID, w.Command, subscribeFormat, r.qos); err != nil {
		r.logger.Error("subscribing to device commands failed",
			"endpoint", r.name,
			"filter", w.String(),
			"error", err,
		)
		return
	}
	r.subscribed = true
	r.logger.Info("subscribed to device commands", "endpoint", r.name, "filter", w.String(), "qos", r.qos)
}

// route applies the filter to one inbound command.
func (r *Router) route(cmd connpool.Command) {
	if !r.filter.Matches(cmd) {
		return
	}
	res := Result{
		Endpoint: r.name,
		Topic:    cmd.Topic,
		Payload:  decodePayload(cmd.Format, cmd.Payload),
		Command:  cmd.Command,
		Format:   cmd.Format,
		Size:     len(cmd.Payload),
	}
	if r.scope == ScopeGateway {
		res.DeviceType = cmd.DeviceType
		res.DeviceID = cmd.DeviceID
	}
	r.out(res)
}

// decodePayload returns the JSON value for format "json" when the payload
// parses, otherwise the payload as text.
func decodePayload(format string, payload []byte) any {
	if format == formatJSON {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil && !dec.More() {
			return v
		}
	}
	return string(payload)
}

func (r *Router) setStatus(s connpool.Status) {
	r.status.Store(s)
	if r.statusSink != nil {
		r.statusSink(s)
	}
}

// Status returns the last connection status delivered to this router.
func (r *Router) Status() connpool.Status {
	if s, ok := r.status.Load().(connpool.Status); ok {
		return s
	}
	return ""
}

// Name returns the endpoint name.
func (r *Router) Name() string {
	return r.name
}

// Filter returns the router's filter.
func (r *Router) Filter() Filter {
	return r.filter
}

// Identity returns the identity of the shared connection.
func (r *Router) Identity() string {
	return r.handle.Identity()
}

// Close drops the router's hold on its gateway subscription, if it made
// one, and releases the shared connection. Other routers sharing the same
// filter keep receiving. Close is idempotent.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.subMu.Lock()
		r.closed = true
		held := r.subscribed
		r.subMu.Unlock()

		if held {
			w := r.filter.Wire()
			if err := r.handle.Conn().UnsubscribeToDeviceCommand(w.DeviceType, w.DeviceID, w.Command, subscribeFormat); err != nil {
				r.logger.Debug("unsubscribing device commands failed", "endpoint", r.name, "error", err)
			}
		}
		r.handle.Release()
		r.logger.Info("command router detached", "endpoint", r.name)
	})
}

func clampQoS(qos int) byte {
	if qos < 0 || qos > 2 {
		return 0
	}
	return byte(qos)
}
