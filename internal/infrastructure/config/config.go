package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT        MQTTConfig         `yaml:"mqtt"`
	API         APIConfig          `yaml:"api"`
	WebSocket   WebSocketConfig    `yaml:"websocket"`
	InfluxDB    InfluxDBConfig     `yaml:"influxdb"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Inbound     []InboundConfig    `yaml:"inbound"`
	Outbound    []OutboundConfig   `yaml:"outbound"`
}

// MQTTConfig contains platform broker settings shared by every connection.
type MQTTConfig struct {
	// Domain is the platform messaging domain. Brokers are addressed as
	// <org>.messaging.<domain>.
	Domain string `yaml:"domain"`

	// BrokerURL overrides the derived broker address, e.g. for a local
	// test broker. Empty uses the platform broker.
	BrokerURL string `yaml:"broker_url"`

	// ConnectTimeout bounds each connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// PublishTimeout bounds publish and subscribe acknowledgements (seconds).
	PublishTimeout int `yaml:"publish_timeout"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains command stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CredentialConfig is one named set of device or gateway credentials.
//
// The auth token is normally supplied through WIOTP_AUTH_TOKEN_<NAME>
// rather than the file.
type CredentialConfig struct {
	Name       string `yaml:"name"`
	Org        string `yaml:"org"`
	DeviceType string `yaml:"device_type"`
	DeviceID   string `yaml:"device_id"`
	AuthToken  string `yaml:"auth_token"`
	Domain     string `yaml:"domain"`
}

// InboundConfig configures one command listener.
type InboundConfig struct {
	// ID identifies the endpoint to the connection registry. Generated when empty.
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Credentials string `yaml:"credentials"`

	// Scope is "device" or "gateway".
	Scope string `yaml:"scope"`

	// Target is "all" or "device" for gateway scope.
	Target     string `yaml:"target"`
	DeviceType string `yaml:"device_type"`
	DeviceID   string `yaml:"device_id"`
	Command    string `yaml:"command"`
	QoS        int    `yaml:"qos"`

	// KeepAlive is the connection keep-alive interval (seconds).
	KeepAlive int `yaml:"keepalive"`
}

// OutboundConfig configures one event publisher.
type OutboundConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Credentials string `yaml:"credentials"`

	// Quickstart publishes anonymously to the trial service instead of
	// using credentials.
	Quickstart         bool   `yaml:"quickstart"`
	QuickstartDeviceID string `yaml:"quickstart_device_id"`

	Scope      string `yaml:"scope"`
	DeviceType string `yaml:"device_type"`
	DeviceID   string `yaml:"device_id"`
	Event      string `yaml:"event"`
	Format     string `yaml:"format"`
	QoS        int    `yaml:"qos"`
	KeepAlive  int    `yaml:"keepalive"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WIOTP_SECTION_KEY
// For example: WIOTP_API_PORT, WIOTP_INFLUXDB_TOKEN. Credential tokens use
// WIOTP_AUTH_TOKEN_<NAME>, with the name upper-cased and every character
// other than a letter or digit replaced by an underscore.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Domain:         "internetofthings.ibmcloud.com",
			ConnectTimeout: 10,
			PublishTimeout: 5,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WIOTP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("WIOTP_MQTT_DOMAIN"); v != "" {
		cfg.MQTT.Domain = v
	}
	if v := os.Getenv("WIOTP_MQTT_BROKER_URL"); v != "" {
		cfg.MQTT.BrokerURL = v
	}

	// API
	if v := os.Getenv("WIOTP_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WIOTP_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("WIOTP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("WIOTP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Credentials - tokens should never live in the config file
	for i := range cfg.Credentials {
		if v := os.Getenv(TokenEnvVar(cfg.Credentials[i].Name)); v != "" {
			cfg.Credentials[i].AuthToken = v
		}
	}
}

// TokenEnvVar returns the environment variable holding the auth token for
// the named credentials.
func TokenEnvVar(name string) string {
	var b strings.Builder
	b.WriteString("WIOTP_AUTH_TOKEN_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.Domain == "" && c.MQTT.BrokerURL == "" {
		errs = append(errs, "mqtt.domain or mqtt.broker_url is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Credentials validation
	names := make(map[string]bool, len(c.Credentials))
	for i, cr := range c.Credentials {
		prefix := fmt.Sprintf("credentials[%d]", i)
		if cr.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[cr.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, cr.Name))
		}
		names[cr.Name] = true
		if cr.Org == "" || cr.DeviceType == "" || cr.DeviceID == "" {
			errs = append(errs, prefix+": org, device_type and device_id are required")
		}
		if cr.AuthToken == "" {
			errs = append(errs, fmt.Sprintf("%s.auth_token is required (set %s environment variable)", prefix, TokenEnvVar(cr.Name)))
		}
	}

	// Endpoint validation
	ids := make(map[string]bool)
	checkID := func(prefix, id string) {
		if id == "" {
			return
		}
		if ids[id] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, id))
		}
		ids[id] = true
	}

	for i, in := range c.Inbound {
		prefix := fmt.Sprintf("inbound[%d]", i)
		checkID(prefix, in.ID)
		if !names[in.Credentials] {
			errs = append(errs, fmt.Sprintf("%s.credentials %q does not name a credentials entry", prefix, in.Credentials))
		}
		switch in.Scope {
		case "", "device":
		case "gateway":
			switch in.Target {
			case "", "all":
			case "device":
				if in.DeviceType == "" || in.DeviceID == "" {
					errs = append(errs, prefix+": device_type and device_id are required for target device")
				}
			default:
				errs = append(errs, prefix+".target must be all or device")
			}
		default:
			errs = append(errs, prefix+".scope must be device or gateway")
		}
	}

	for i, out := range c.Outbound {
		prefix := fmt.Sprintf("outbound[%d]", i)
		checkID(prefix, out.ID)
		if !out.Quickstart && !names[out.Credentials] {
			errs = append(errs, fmt.Sprintf("%s.credentials %q does not name a credentials entry", prefix, out.Credentials))
		}
		if out.Scope != "" && out.Scope != "device" && out.Scope != "gateway" {
			errs = append(errs, prefix+".scope must be device or gateway")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
