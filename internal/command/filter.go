package command

import (
	"fmt"
	"strings"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// Wildcard matches any value in a filter field.
const Wildcard = "+"

// wildcardAlias is accepted in configuration and treated as Wildcard.
const wildcardAlias = "*"

// Filter selects commands by device type, device ID and command name.
type Filter struct {
	DeviceType string `json:"device_type"`
	DeviceID   string `json:"device_id"`
	Command    string `json:"command"`
}

// DeviceFilter returns a filter for a plain device connection, which only
// ever receives its own commands.
func DeviceFilter(command string) Filter {
	return Filter{DeviceType: Wildcard, DeviceID: Wildcard, Command: command}
}

// Matches reports whether cmd satisfies every field of the filter.
func (f Filter) Matches(cmd connpool.Command) bool {
	return matchField(f.DeviceType, cmd.DeviceType) &&
		matchField(f.DeviceID, cmd.DeviceID) &&
		matchField(f.Command, cmd.Command)
}

func matchField(pattern, value string) bool {
	return isWildcard(pattern) || pattern == value
}

func isWildcard(s string) bool {
	return s == Wildcard || s == wildcardAlias
}

// Validate checks that each field is a wildcard or a single topic level.
func (f Filter) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"device type", f.DeviceType},
		{"device id", f.DeviceID},
		{"command", f.Command},
	}
	for _, fld := range fields {
		if fld.value == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidFilter, fld.name)
		}
		if isWildcard(fld.value) {
			continue
		}
		if strings.ContainsAny(fld.value, "/+#*") {
			return fmt.Errorf("%w: %s %q", ErrInvalidFilter, fld.name, fld.value)
		}
	}
	return nil
}

// Wire returns the filter with wildcard aliases replaced by Wildcard, as it
// is sent in a subscription.
func (f Filter) Wire() Filter {
	return Filter{
		DeviceType: wire(f.DeviceType),
		DeviceID:   wire(f.DeviceID),
		Command:    wire(f.Command),
	}
}

func wire(s string) string {
	if isWildcard(s) {
		return Wildcard
	}
	return s
}

// String renders the filter as type/id/command.
func (f Filter) String() string {
	return f.DeviceType + "/" + f.DeviceID + "/" + f.Command
}
