package connpool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Mode selects the device or gateway variant of the transport.
type Mode string

// Transport modes.
const (
	ModeDevice  Mode = "device"
	ModeGateway Mode = "gateway"
)

// AuthMethodToken is the only authentication method the platform offers devices.
const AuthMethodToken = "token"

// Config is the canonical connection configuration of one device or gateway.
//
// It is produced by the credentials layer and treated here as an opaque,
// deterministically orderable set of fields. Extra carries any additional
// fields that should participate in identity (for example a broker override).
type Config struct {
	Org        string
	DeviceType string
	DeviceID   string
	AuthMethod string
	AuthToken  string
	Domain     string
	Mode       Mode
	Extra      map[string]string
}

// fields returns the config as a flat key/value map.
func (c Config) fields() map[string]string {
	m := make(map[string]string, 7+len(c.Extra))
	for k, v := range c.Extra {
		m["x-"+k] = v
	}
	m["org"] = c.Org
	m["type"] = c.DeviceType
	m["id"] = c.DeviceID
	m["auth-method"] = c.AuthMethod
	m["auth-token"] = c.AuthToken
	m["domain"] = c.Domain
	m["mode"] = string(c.mode())
	return m
}

// mode defaults an empty mode to device.
func (c Config) mode() Mode {
	if c.Mode == "" {
		return ModeDevice
	}
	return c.Mode
}

// Canonical returns the config serialised with keys in sorted order.
// Two configs with the same fields always produce the same string.
func (c Config) Canonical() string {
	fields := c.fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		// %q keeps separators inside values from colliding with the delimiter.
		fmt.Fprintf(&b, "%q=%q;", k, fields[k])
	}
	return b.String()
}

// Identity returns the connection identity for this config.
//
// The identity is a SHA-256 digest of the canonical form, so it is safe to log
// and expose through the API without leaking the auth token.
func (c Config) Identity() string {
	sum := sha256.Sum256([]byte(c.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Validate checks that the fields needed to dial are present.
func (c Config) Validate() error {
	var missing []string
	if c.Org == "" {
		missing = append(missing, "org")
	}
	if c.DeviceType == "" {
		missing = append(missing, "device type")
	}
	if c.DeviceID == "" {
		missing = append(missing, "device id")
	}
	switch c.mode() {
	case ModeDevice, ModeGateway:
	default:
		missing = append(missing, "valid mode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// ClientLabel returns a short human-readable description for logs.
func (c Config) ClientLabel() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.mode(), c.Org, c.DeviceType, c.DeviceID)
}
