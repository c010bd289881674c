package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/credentials"
	"github.com/nerrad567/wiotp-relay/internal/payload"
)

const (
	// DefaultEvent is the event name used when neither message nor endpoint
	// names one.
	DefaultEvent = "event"

	// DefaultKeepAlive is used when PublisherConfig.KeepAlive is unset, and
	// always for quickstart.
	DefaultKeepAlive = 60 * time.Second

	// QuickstartDeviceType is the device type announced to quickstart.
	QuickstartDeviceType = "wiotp-relay"
)

// Scope selects device or gateway publishing.
type Scope string

// Publisher scopes.
const (
	ScopeDevice  Scope = "device"
	ScopeGateway Scope = "gateway"
)

// Logger defines the logging interface used by the Publisher.
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

// PublisherConfig configures one outbound endpoint.
type PublisherConfig struct {
	Name   string
	UserID string

	// Credentials is required unless Quickstart is set.
	Credentials *credentials.Node

	// Quickstart publishes anonymously to the trial service as a device.
	// QoS is forced to 0 and keep-alive to DefaultKeepAlive.
	Quickstart         bool
	QuickstartDeviceID string

	Scope Scope

	// Endpoint defaults, overridden per message.
	DeviceType string
	DeviceID   string
	Event      string
	Format     string
	QoS        int

	KeepAlive time.Duration
}

// Message is one outbound event request. Empty fields fall back to the
// endpoint defaults.
type Message struct {
	Payload    any    `json:"payload"`
	Event      string `json:"event,omitempty"`
	Format     string `json:"format,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	QoS        *int   `json:"qos,omitempty"`
}

// Outcome describes what Send did.
type Outcome struct {
	Event      string `json:"event"`
	Format     string `json:"format"`
	DeviceType string `json:"device_type,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	QoS        byte   `json:"qos"`
	Bytes      int    `json:"bytes"`

	// Kind is how the payload was classified before normalising.
	Kind string `json:"kind,omitempty"`

	// Warning is the transmission error, if any. It never affects the
	// endpoint or the connection.
	Warning error `json:"-"`
}

// Sent reports whether the message was handed to the connection.
func (o Outcome) Sent() bool {
	return o.Warning == nil
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher's logger.
func WithLogger(logger Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithStatusSink forwards connection status changes to sink.
func WithStatusSink(sink connpool.StatusSink) Option {
	return func(p *Publisher) {
		p.statusSink = sink
	}
}

// Publisher is an outbound event endpoint.
type Publisher struct {
	name       string
	scope      Scope
	quickstart bool
	defaults   PublisherConfig
	ownType    string
	ownID      string
	logger     Logger
	statusSink connpool.StatusSink
	status     atomic.Value // connpool.Status

	handle    *connpool.Handle
	closeOnce sync.Once
}

// NewPublisher validates cfg and joins the shared connection. No readiness
// gate is needed; a send the transport cannot deliver comes back as a
// warning.
func NewPublisher(reg *connpool.Registry, cfg PublisherConfig, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		name:       cfg.Name,
		scope:      cfg.Scope,
		quickstart: cfg.Quickstart,
		defaults:   cfg,
		logger:     noopLogger{},
	}
	if p.scope == "" {
		p.scope = ScopeDevice
	}
	for _, opt := range opts {
		opt(p)
	}

	connCfg, err := p.connConfig(cfg)
	if err != nil {
		return nil, err
	}
	p.ownType = connCfg.DeviceType
	p.ownID = connCfg.DeviceID

	keepAlive := cfg.KeepAlive
	qos := clampQoS(cfg.QoS)
	if keepAlive <= 0 || p.quickstart {
		keepAlive = DefaultKeepAlive
	}
	if p.quickstart {
		qos = 0
		p.logger.Info("connecting to quickstart",
			"endpoint", p.name,
			"device_type", connCfg.DeviceType,
			"device_id", connCfg.DeviceID,
			"qos", qos,
			"keepalive_seconds", int(keepAlive/time.Second),
		)
	}

	handle, err := reg.Acquire(connpool.AcquireRequest{
		Config:    connCfg,
		KeepAlive: keepAlive,
		QoS:       qos,
		Attachment: connpool.Attachment{
			UserID: cfg.UserID,
			Status: p.setStatus,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for %s: %w", cfg.Name, err)
	}
	p.handle = handle

	p.logger.Info("event publisher attached", "endpoint", p.name, "scope", p.scope, "quickstart", p.quickstart)
	return p, nil
}

// connConfig resolves the identity the publisher connects as.
func (p *Publisher) connConfig(cfg PublisherConfig) (connpool.Config, error) {
	if cfg.Quickstart {
		// Quickstart has no gateways.
		p.scope = ScopeDevice
		id := cfg.QuickstartDeviceID
		if id == "" {
			id = cfg.UserID
		}
		return credentials.Quickstart(QuickstartDeviceType, id), nil
	}

	if err := cfg.Credentials.Validate(); err != nil {
		return connpool.Config{}, err
	}
	switch p.scope {
	case ScopeDevice:
		return cfg.Credentials.ConnConfig(connpool.ModeDevice), nil
	case ScopeGateway:
		return cfg.Credentials.ConnConfig(connpool.ModeGateway), nil
	default:
		return connpool.Config{}, fmt.Errorf("%w: %q", ErrInvalidScope, p.scope)
	}
}

// Send normalises msg and publishes it on the shared connection.
//
// Failures are returned as Outcome.Warning and logged; they never close the
// publisher or the connection.
func (p *Publisher) Send(ctx context.Context, msg Message) Outcome {
	out := p.resolve(msg)

	if err := ctx.Err(); err != nil {
		return p.warn(out, err)
	}
	if p.handle.Released() {
		return p.warn(out, ErrPublisherClosed)
	}

	body := payload.Normalize(msg.Payload, out.Format)
	out.Bytes = body.Len()
	out.Kind = body.Kind.String()

	conn := p.handle.Conn()
	var err error
	if p.scope == ScopeGateway {
		err = conn.PublishEvent(out.DeviceType, out.DeviceID, out.Event, out.Format, body.Bytes, out.QoS)
	} else {
		err = conn.Publish(out.Event, out.Format, body.Bytes, out.QoS)
	}
	if err != nil {
		return p.warn(out, err)
	}

	p.logger.Debug("published device event",
		"endpoint", p.name,
		"event", out.Event,
		"format", out.Format,
		"qos", out.QoS,
		"kind", out.Kind,
		"bytes", out.Bytes,
	)
	return out
}

// resolve applies message, then endpoint, then fallback values.
func (p *Publisher) resolve(msg Message) Outcome {
	d := p.defaults
	out := Outcome{
		Event:  first(msg.Event, d.Event, DefaultEvent),
		Format: first(msg.Format, d.Format, payload.FormatJSON),
	}

	qos := d.QoS
	if msg.QoS != nil {
		qos = *msg.QoS
	}
	out.QoS = clampQoS(qos)
	if p.quickstart {
		out.QoS = 0
	}

	if p.scope == ScopeGateway {
		out.DeviceType = first(msg.DeviceType, d.DeviceType, p.ownType)
		out.DeviceID = first(msg.DeviceID, d.DeviceID, p.ownID)
	}
	return out
}

func (p *Publisher) warn(out Outcome, err error) Outcome {
	out.Warning = fmt.Errorf("sending %s event: %w", out.Event, err)
	p.logger.Warn("error sending message",
		"endpoint", p.name,
		"event", out.Event,
		"format", out.Format,
		"error", err,
	)
	return out
}

func (p *Publisher) setStatus(s connpool.Status) {
	p.status.Store(s)
	if p.statusSink != nil {
		p.statusSink(s)
	}
}

// Status returns the last connection status delivered to this publisher.
func (p *Publisher) Status() connpool.Status {
	if s, ok := p.status.Load().(connpool.Status); ok {
		return s
	}
	return ""
}

// Name returns the endpoint name.
func (p *Publisher) Name() string {
	return p.name
}

// Quickstart reports whether the publisher uses the anonymous service.
func (p *Publisher) Quickstart() bool {
	return p.quickstart
}

// Identity returns the identity of the shared connection.
func (p *Publisher) Identity() string {
	return p.handle.Identity()
}

// Close releases the shared connection. Close is idempotent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.handle.Release()
		p.logger.Info("event publisher detached", "endpoint", p.name)
	})
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clampQoS(qos int) byte {
	if qos < 0 || qos > 2 {
		return 0
	}
	return byte(qos)
}
