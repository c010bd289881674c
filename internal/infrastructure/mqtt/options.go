package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the config does not set one.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is used when the config does not set one.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used until the registry sets the endpoint's value.
	defaultKeepAlive = 60 * time.Second

	// defaultDomain is the platform messaging domain.
	defaultDomain = "internetofthings.ibmcloud.com"

	// tokenUsername is the fixed username for token authentication.
	tokenUsername = "use-token-auth"

	// securePort and quickstartPort are the platform broker ports.
	securePort     = 8883
	quickstartPort = 1883

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// quickstartOrg is the organisation of the anonymous trial service.
const quickstartOrg = "quickstart"

// BrokerURL returns the broker address for a connection.
//
// The quickstart organisation is reached over plain TCP on 1883; every other
// organisation over TLS on 8883. settings.BrokerURL, when set, wins.
//
// Example: ssl://abc123.messaging.internetofthings.ibmcloud.com:8883
func BrokerURL(settings config.MQTTConfig, conn connpool.Config) string {
	if settings.BrokerURL != "" {
		return settings.BrokerURL
	}
	domain := conn.Domain
	if domain == "" {
		domain = settings.Domain
	}
	if domain == "" {
		domain = defaultDomain
	}
	if conn.Org == quickstartOrg {
		return fmt.Sprintf("tcp://%s.messaging.%s:%d", conn.Org, domain, quickstartPort)
	}
	return fmt.Sprintf("ssl://%s.messaging.%s:%d", conn.Org, domain, securePort)
}

// ClientID returns the platform client ID for a connection.
//
// Example: d:abc123:sensor:001 (device), g:abc123:gw:gw-1 (gateway)
func ClientID(conn connpool.Config) string {
	prefix := "d"
	if conn.Mode == connpool.ModeGateway {
		prefix = "g"
	}
	return fmt.Sprintf("%s:%s:%s:%s", prefix, conn.Org, conn.DeviceType, conn.DeviceID)
}

// buildClientOptions creates paho MQTT options for one platform connection.
//
// This configures:
//   - Broker URL (quickstart over tcp, everything else over ssl)
//   - Platform client ID
//   - Token authentication (not for quickstart)
//   - Auto-reconnect with exponential backoff, including the first connect
//   - TLS configuration for ssl brokers
//   - Clean session mode
func buildClientOptions(settings config.MQTTConfig, conn connpool.Config, keepAlive time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	brokerURL := BrokerURL(settings, conn)
	opts.AddBroker(brokerURL)

	opts.SetClientID(ClientID(conn))

	if conn.Org != quickstartOrg && conn.AuthToken != "" {
		opts.SetUsername(tokenUsername)
		opts.SetPassword(conn.AuthToken)
	}

	// Clean session - the relay resubscribes on every connect
	opts.SetCleanSession(true)

	// Connect returns immediately; the first connection is retried like a reconnect
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(seconds(settings.Reconnect.InitialDelay, time.Second))
	opts.SetMaxReconnectInterval(seconds(settings.Reconnect.MaxDelay, time.Minute))

	opts.SetConnectTimeout(seconds(settings.ConnectTimeout, defaultConnectTimeout))

	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if strings.HasPrefix(brokerURL, "ssl://") {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// seconds converts a config value in seconds, falling back when unset.
func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}
