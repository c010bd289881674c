package mqtt

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// Client is a platform connection for one device or gateway identity,
// built on paho.mqtt.golang. It implements connpool.Transport.
//
// Connect is asynchronous: paho retries the first connection like any
// reconnect, and lifecycle changes are reported through the installed
// connpool.Handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Device command subscriptions and tracked gateway subscriptions are
//     restored on every connect.
type Client struct {
	settings       config.MQTTConfig
	conn           connpool.Config
	client         pahomqtt.Client
	publishTimeout time.Duration

	// keepAlive and qos are fixed before Connect.
	keepAlive time.Duration
	qos       byte

	// subscriptions tracks gateway command subscriptions for restoration on reconnect.
	subscriptions map[string]*subscription
	subMu         sync.RWMutex

	// connected tracks current connection state; everConnected separates
	// the first connect from reconnects.
	connected     bool
	everConnected bool
	closed        bool
	connMu        sync.RWMutex

	handlers   connpool.Handlers
	callbackMu sync.RWMutex

	logger Logger
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// subscription holds subscription details for re-subscription on reconnect.
// refs counts the users sharing the topic.
type subscription struct {
	topic string
	qos   byte
	refs  int
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
type MessageHandler func(topic string, payload []byte) error

// NewDialer returns a connpool.Dialer that builds platform clients sharing
// the given broker settings.
func NewDialer(settings config.MQTTConfig, logger Logger) connpool.Dialer {
	return func(conn connpool.Config) (connpool.Transport, error) {
		return New(settings, conn, logger)
	}
}

// New creates an unconnected client for conn.
//
// Returns:
//   - *Client: Client ready for SetHandlers, SetKeepAlive and Connect
//   - error: If the broker address cannot be parsed
func New(settings config.MQTTConfig, conn connpool.Config, logger Logger) (*Client, error) {
	if _, err := url.Parse(BrokerURL(settings, conn)); err != nil {
		return nil, fmt.Errorf("%w: broker url: %w", ErrConnectionFailed, err)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		settings:       settings,
		conn:           conn,
		publishTimeout: seconds(settings.PublishTimeout, defaultPublishTimeout),
		keepAlive:      defaultKeepAlive,
		subscriptions:  make(map[string]*subscription),
		logger:         logger,
	}, nil
}

// SetHandlers installs the lifecycle and command callbacks.
func (c *Client) SetHandlers(h connpool.Handlers) {
	c.callbackMu.Lock()
	c.handlers = h
	c.callbackMu.Unlock()
}

// SetKeepAlive sets the keep-alive interval used by Connect.
func (c *Client) SetKeepAlive(d time.Duration) {
	c.connMu.Lock()
	c.keepAlive = d
	c.connMu.Unlock()
}

// Connect starts connecting to the platform and returns immediately.
//
// qos is used for the device command subscription made on every connect.
// Calling Connect more than once has no effect.
func (c *Client) Connect(qos byte) {
	c.connMu.Lock()
	if c.client != nil || c.closed {
		c.connMu.Unlock()
		return
	}
	c.qos = qos

	opts := buildClientOptions(c.settings, c.conn, c.keepAlive)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("reconnecting to platform", "client_id", ClientID(c.conn))
	})
	// Every command subscription is made without a callback, so this is the
	// single dispatch point for inbound commands.
	opts.SetDefaultPublishHandler(c.wrapHandler(c.handleCommand))

	c.client = pahomqtt.NewClient(opts)
	client := c.client
	c.connMu.Unlock()

	c.logger.Info("connecting to platform",
		"client_id", ClientID(c.conn),
		"broker", BrokerURL(c.settings, c.conn),
		"qos", qos,
	)

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil && !c.isClosed() {
			c.fireError(fmt.Errorf("%w: %s: %w", ErrConnectionFailed, ClientID(c.conn), err))
		}
	}()
}

// handleConnect is called on the first connect and on every reconnect.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	first := !c.everConnected
	c.everConnected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	h := c.handlers
	c.callbackMu.RUnlock()

	if first {
		if h.OnConnect != nil {
			h.OnConnect()
		}
		return
	}
	if h.OnReconnect != nil {
		h.OnReconnect()
	}
}

// handleDisconnect is called when an established connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if err != nil {
		c.fireError(fmt.Errorf("%w: %s: %w", ErrConnectionLost, ClientID(c.conn), err))
	}

	c.callbackMu.RLock()
	callback := c.handlers.OnDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// restoreSubscriptions subscribes devices to their commands and re-subscribes
// gateways to every tracked topic. Errors are reported through OnError.
func (c *Client) restoreSubscriptions() {
	c.connMu.RLock()
	client := c.client
	qos := c.qos
	c.connMu.RUnlock()
	if client == nil {
		return
	}

	if c.conn.Mode != connpool.ModeGateway {
		// The quickstart service does not deliver commands.
		if c.conn.Org == quickstartOrg {
			return
		}
		topic := Topics{}.AllDeviceCommands()
		c.watch(client.Subscribe(topic, qos, nil), topic)
		return
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.watch(client.Subscribe(sub.topic, sub.qos, nil), sub.topic)
	}
}

// watch reports a failed background subscription without blocking the
// paho callback that issued it.
func (c *Client) watch(token pahomqtt.Token, topic string) {
	go func() {
		if !token.WaitTimeout(c.publishTimeout) {
			c.fireError(fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, c.publishTimeout))
			return
		}
		if err := token.Error(); err != nil {
			c.fireError(fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err))
		}
	}()
}

// handleCommand parses an inbound command and hands it to OnCommand.
func (c *Client) handleCommand(topic string, payload []byte) error {
	cmd, ok := ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: not a command topic: %s", ErrInvalidTopic, topic)
	}
	cmd.Payload = append([]byte(nil), payload...)

	c.callbackMu.RLock()
	callback := c.handlers.OnCommand
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(cmd)
	}
	return nil
}

func (c *Client) fireError(err error) {
	c.callbackMu.RLock()
	callback := c.handlers.OnError
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	} else {
		c.logger.Error("platform connection error", "error", err)
	}
}

// Disconnect closes the connection and stops reconnect attempts.
//
// Returns:
//   - error: Always nil; disconnecting a closed client is not an error
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	client := c.client
	c.closed = true
	c.connected = false
	c.connMu.Unlock()

	if client == nil {
		return nil
	}

	// Disconnect with quiesce period for pending operations
	client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) isClosed() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.closed
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
