package command

import (
	"errors"
	"testing"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

func TestFilterMatches(t *testing.T) {
	gatewayCmd := connpool.Command{DeviceType: "dev1", DeviceID: "001", Command: "reset"}
	deviceCmd := connpool.Command{Command: "reset"}

	tests := []struct {
		name   string
		filter Filter
		cmd    connpool.Command
		want   bool
	}{
		{"all wildcards", Filter{"+", "+", "+"}, gatewayCmd, true},
		{"alias wildcards", Filter{"*", "*", "*"}, gatewayCmd, true},
		{"exact triple", Filter{"dev1", "001", "reset"}, gatewayCmd, true},
		{"wrong type", Filter{"dev2", "001", "reset"}, gatewayCmd, false},
		{"wrong id", Filter{"dev1", "002", "reset"}, gatewayCmd, false},
		{"wrong command", Filter{"dev1", "001", "reboot"}, gatewayCmd, false},
		{"wildcard type only", Filter{"+", "001", "reset"}, gatewayCmd, true},
		{"wildcard id only", Filter{"dev1", "+", "reset"}, gatewayCmd, true},
		{"wildcard command only", Filter{"dev1", "001", "+"}, gatewayCmd, true},
		{"device filter on name", DeviceFilter("reset"), deviceCmd, true},
		{"device filter other name", DeviceFilter("reboot"), deviceCmd, false},
		{"device filter any", DeviceFilter(Wildcard), deviceCmd, true},
		{"literal vs empty type", Filter{"dev1", "+", "reset"}, deviceCmd, false},
		{"case sensitive", Filter{"+", "+", "Reset"}, gatewayCmd, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.cmd); got != tt.want {
				t.Errorf("%v.Matches(%+v) = %v, want %v", tt.filter, tt.cmd, got, tt.want)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"wildcards", Filter{"+", "+", "+"}, false},
		{"aliases", Filter{"*", "*", "*"}, false},
		{"literals", Filter{"dev1", "001", "reset"}, false},
		{"empty type", Filter{"", "001", "reset"}, true},
		{"empty id", Filter{"dev1", "", "reset"}, true},
		{"empty command", Filter{"dev1", "001", ""}, true},
		{"slash", Filter{"dev/1", "001", "reset"}, true},
		{"embedded plus", Filter{"dev1", "0+1", "reset"}, true},
		{"hash", Filter{"dev1", "001", "#"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("Validate() error = %v, want ErrInvalidFilter", err)
			}
		})
	}
}

func TestFilterWire(t *testing.T) {
	got := Filter{"*", "001", "+"}.Wire()
	want := Filter{"+", "001", "+"}
	if got != want {
		t.Errorf("Wire() = %v, want %v", got, want)
	}
}
