package credentials

import (
	"fmt"
	"strings"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// QuickstartOrg is the organisation of the anonymous trial service.
const QuickstartOrg = "quickstart"

// Node is one named set of device or gateway credentials.
type Node struct {
	Name       string
	Org        string
	DeviceType string
	DeviceID   string
	AuthToken  string

	// Domain overrides the platform messaging domain. Empty uses the default.
	Domain string
}

// Valid reports whether the node carries everything needed to authenticate.
func (n *Node) Valid() bool {
	return n != nil && len(n.missing()) == 0
}

// Validate returns ErrMissingCredentials naming each missing field.
func (n *Node) Validate() error {
	if n == nil {
		return ErrMissingCredentials
	}
	if missing := n.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s: missing %s", ErrMissingCredentials, n.label(), strings.Join(missing, ", "))
	}
	return nil
}

func (n *Node) missing() []string {
	var missing []string
	if n.Org == "" {
		missing = append(missing, "org")
	}
	if n.DeviceType == "" {
		missing = append(missing, "device type")
	}
	if n.DeviceID == "" {
		missing = append(missing, "device id")
	}
	if n.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	return missing
}

func (n *Node) label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Org + "/" + n.DeviceType + "/" + n.DeviceID
}

// ConnConfig returns the connection config for the given mode.
func (n *Node) ConnConfig(mode connpool.Mode) connpool.Config {
	return connpool.Config{
		Org:        n.Org,
		DeviceType: n.DeviceType,
		DeviceID:   n.DeviceID,
		AuthMethod: connpool.AuthMethodToken,
		AuthToken:  n.AuthToken,
		Domain:     n.Domain,
		Mode:       mode,
	}
}

// Close destroys the node's connections in both modes, detaching any
// endpoints still attached to them.
func (n *Node) Close(reg *connpool.Registry) {
	if n == nil || reg == nil {
		return
	}
	reg.Destroy(n.ConnConfig(connpool.ModeDevice).Identity())
	reg.Destroy(n.ConnConfig(connpool.ModeGateway).Identity())
}

// Quickstart returns the connection config for the anonymous trial service.
// The quickstart service has no authentication and only supports devices.
func Quickstart(deviceType, deviceID string) connpool.Config {
	return connpool.Config{
		Org:        QuickstartOrg,
		DeviceType: deviceType,
		DeviceID:   deviceID,
		Mode:       connpool.ModeDevice,
	}
}
