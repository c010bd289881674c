package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  domain: "internetofthings.ibmcloud.com"
api:
  port: 9090
credentials:
  - name: plant
    org: abc123
    device_type: gw
    device_id: gw-1
inbound:
  - id: in-1
    name: resets
    credentials: plant
    scope: gateway
    target: device
    device_type: dev1
    device_id: "+"
    command: reset
    qos: 1
outbound:
  - name: telemetry
    credentials: plant
    event: status
  - name: trial
    quickstart: true
`
	t.Setenv("WIOTP_AUTH_TOKEN_PLANT", "tok-from-env")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0].AuthToken != "tok-from-env" {
		t.Errorf("Credentials = %+v", cfg.Credentials)
	}
	if len(cfg.Inbound) != 1 || cfg.Inbound[0].DeviceID != "+" || cfg.Inbound[0].QoS != 1 {
		t.Errorf("Inbound = %+v", cfg.Inbound)
	}
	if len(cfg.Outbound) != 2 || !cfg.Outbound[1].Quickstart {
		t.Errorf("Outbound = %+v", cfg.Outbound)
	}
	// Defaults survive a partial file.
	if cfg.MQTT.Reconnect.MaxDelay != 60 {
		t.Errorf("MQTT.Reconnect.MaxDelay = %d, want 60", cfg.MQTT.Reconnect.MaxDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingTokenNamesEnvVar(t *testing.T) {
	content := `
credentials:
  - name: east-wing
    org: abc123
    device_type: gw
    device_id: gw-1
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "WIOTP_AUTH_TOKEN_EAST_WING") {
		t.Errorf("Load() error = %v, want mention of WIOTP_AUTH_TOKEN_EAST_WING", err)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Credentials = []CredentialConfig{
		{Name: "plant", Org: "abc123", DeviceType: "gw", DeviceID: "gw-1", AuthToken: "tok"},
	}
	cfg.Inbound = []InboundConfig{{ID: "in-1", Credentials: "plant", Command: "reset"}}
	cfg.Outbound = []OutboundConfig{{ID: "out-1", Credentials: "plant"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"no broker", func(c *Config) { c.MQTT.Domain = "" }, "mqtt.domain"},
		{"broker url only", func(c *Config) { c.MQTT.Domain = ""; c.MQTT.BrokerURL = "tcp://127.0.0.1:1883" }, ""},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Org = "o"; c.InfluxDB.Bucket = "b" }, "influxdb.url"},
		{"credentials without name", func(c *Config) { c.Credentials[0].Name = "" }, "credentials[0].name"},
		{"duplicate credentials", func(c *Config) { c.Credentials = append(c.Credentials, c.Credentials[0]) }, "duplicated"},
		{"credentials missing org", func(c *Config) { c.Credentials[0].Org = "" }, "org, device_type and device_id"},
		{"unknown inbound credentials", func(c *Config) { c.Inbound[0].Credentials = "nope" }, "inbound[0].credentials"},
		{"bad inbound scope", func(c *Config) { c.Inbound[0].Scope = "mesh" }, "inbound[0].scope"},
		{"bad inbound target", func(c *Config) { c.Inbound[0].Scope = "gateway"; c.Inbound[0].Target = "some" }, "inbound[0].target"},
		{"target device without id", func(c *Config) {
			c.Inbound[0].Scope = "gateway"
			c.Inbound[0].Target = "device"
			c.Inbound[0].DeviceType = "dev1"
		}, "device_type and device_id"},
		{"unknown outbound credentials", func(c *Config) { c.Outbound[0].Credentials = "nope" }, "outbound[0].credentials"},
		{"quickstart needs no credentials", func(c *Config) { c.Outbound[0].Credentials = ""; c.Outbound[0].Quickstart = true }, ""},
		{"duplicate endpoint id", func(c *Config) { c.Outbound[0].ID = "in-1" }, "outbound[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.Port = 0
	cfg.Inbound[0].Credentials = "nope"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"api.port", "inbound[0].credentials"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()
	cfg.Credentials = []CredentialConfig{{Name: "plant.north", AuthToken: "from-file"}}

	t.Setenv("WIOTP_MQTT_DOMAIN", "example.test")
	t.Setenv("WIOTP_MQTT_BROKER_URL", "tcp://127.0.0.1:1883")
	t.Setenv("WIOTP_API_HOST", "192.168.1.1")
	t.Setenv("WIOTP_API_PORT", "9999")
	t.Setenv("WIOTP_LOG_LEVEL", "debug")
	t.Setenv("WIOTP_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("WIOTP_AUTH_TOKEN_PLANT_NORTH", "from-env")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"MQTT.Domain", cfg.MQTT.Domain, "example.test"},
		{"MQTT.BrokerURL", cfg.MQTT.BrokerURL, "tcp://127.0.0.1:1883"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Credentials[0].AuthToken", cfg.Credentials[0].AuthToken, "from-env"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("WIOTP_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestTokenEnvVar(t *testing.T) {
	tests := map[string]string{
		"plant":       "WIOTP_AUTH_TOKEN_PLANT",
		"east-wing":   "WIOTP_AUTH_TOKEN_EAST_WING",
		"Gateway 2.b": "WIOTP_AUTH_TOKEN_GATEWAY_2_B",
	}
	for name, want := range tests {
		if got := TokenEnvVar(name); got != want {
			t.Errorf("TokenEnvVar(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Domain == "" {
		t.Error("defaultConfig should have non-empty MQTT.Domain")
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("defaultConfig Metrics = %+v", cfg.Metrics)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
