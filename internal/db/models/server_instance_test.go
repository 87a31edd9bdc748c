package models

import (
	"testing"

	"github.com/serverfleet/serverfleet/internal/provider"
)

func TestFoldAppliesOnlySetFields(t *testing.T) {
	addr := "203.0.113.10"
	state := provider.StateRunning
	inst := &ServerInstance{
		Usage:       "dev box",
		ServerName:  "srv-1",
		ServerState: provider.StateCreating,
	}

	inst.Fold(provider.InstanceUpdate{
		ServerAddress: &addr,
		ServerState:   &state,
	})

	if inst.ServerAddress == nil || *inst.ServerAddress != addr {
		t.Errorf("address not folded: %v", inst.ServerAddress)
	}
	if inst.ServerState != provider.StateRunning {
		t.Errorf("state = %v, want running", inst.ServerState)
	}
	// untouched fields keep their values
	if inst.Usage != "dev box" || inst.ServerName != "srv-1" {
		t.Errorf("unset fields were overwritten: %+v", inst)
	}
}

func TestFoldEmptyUpdateIsNoop(t *testing.T) {
	user := "root"
	inst := &ServerInstance{ServerUser: &user, ServerState: provider.StateStopped}

	inst.Fold(provider.InstanceUpdate{})

	if inst.ServerUser != &user || inst.ServerState != provider.StateStopped {
		t.Errorf("empty fold changed the instance: %+v", inst)
	}
}

func TestAllowsGroupOf(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		userGroups []string
		want       bool
	}{
		{"open template", nil, nil, true},
		{"member", []string{"dev", "staff"}, []string{"staff"}, true},
		{"non-member", []string{"dev"}, []string{"sales"}, false},
		{"no groups at all", []string{"dev"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := &ServerTemplate{AllowedGroups: tt.allowed}
			if got := tmpl.AllowsGroupOf(tt.userGroups); got != tt.want {
				t.Errorf("AllowsGroupOf(%v) = %v, want %v", tt.userGroups, got, tt.want)
			}
		})
	}
}
