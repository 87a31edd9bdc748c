// Package provider defines the backend capability contract for server
// provisioning providers and the registry used to resolve them. A backend must
// implement the mandatory Backend interface (Create, GetInfo, Delete) and may
// additionally implement any of the optional capability interfaces (Starter,
// Stopper, Restarter, PasswordResetter, Prolonger). New providers are added by
// implementing the interfaces and registering a Factory — no changes to the
// dispatch logic are required.
package provider

import (
	"context"
	"time"
)

// ServerState describes the lifecycle state of a provisioned server as
// reported by its backend. The zero value is not meaningful; new instances
// start as StateUnknown until the first backend result is folded in.
type ServerState int

const (
	StateError    ServerState = -1
	StateCreating ServerState = 10
	StateRunning  ServerState = 20
	StateStopped  ServerState = 30
	StateUnknown  ServerState = 1000
)

func (s ServerState) String() string {
	switch s {
	case StateError:
		return "error"
	case StateCreating:
		return "creating"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// StatusMessage pairs user-facing and admin-facing text for one operation.
// User fields are shown to the instance owner; admin fields never leave the
// admin-only execution log.
type StatusMessage struct {
	UserMessage  string
	UserTrace    string
	AdminMessage string
	AdminTrace   string
}

// Info is the result of GetInfo and of the optional start/stop/restart
// capabilities. Optional fields are pointers: a nil field means "no update"
// and is left untouched when the dispatcher folds the result onto an
// instance.
type Info struct {
	ServerID       string
	ServerName     string
	ServerState    ServerState
	CreatedAt      time.Time
	ServerAddress  string
	Labels         map[string]string
	Usage          *string
	ServerUser     *string
	ServerPassword *string
	Message        *StatusMessage
}

// CreatedInfo is the result of Create. It extends Info with the template
// description echoed back by the backend.
type CreatedInfo struct {
	Info
	Description string
}

// PasswordResetInfo is the result of ResetPassword.
type PasswordResetInfo struct {
	ServerID       string
	ServerUser     string
	ServerPassword string
	Message        *StatusMessage
}

// DeletedInfo is the result of Delete. Deleted reports whether the backend
// confirmed destruction; the dispatcher removes the instance row either way.
type DeletedInfo struct {
	ServerID string
	Deleted  bool
	Message  *StatusMessage
}

// CreateRequest carries everything a backend needs to provision a server.
// Backends never touch the database; the dispatcher loads the instance and
// its template and hands the relevant fields over.
type CreateRequest struct {
	InstanceID   string
	UserID       string
	TemplateName string
	Description  string
}

// Backend is the mandatory capability set every provider must implement.
type Backend interface {
	// Create provisions a new server for the given instance.
	Create(ctx context.Context, req CreateRequest) (*CreatedInfo, error)

	// GetInfo fetches the current state of an existing server.
	GetInfo(ctx context.Context, serverID string) (*Info, error)

	// Delete destroys the server. It is called with the backend-assigned
	// server id, never with an empty one.
	Delete(ctx context.Context, serverID string) (*DeletedInfo, error)
}

// Optional capabilities. Dispatch logic queries these with type assertions
// rather than relying on a type hierarchy; a backend advertises a capability
// simply by implementing the interface.

// Starter powers a stopped server on.
type Starter interface {
	Start(ctx context.Context, serverID string) (*Info, error)
}

// Stopper powers a running server off.
type Stopper interface {
	Stop(ctx context.Context, serverID string) (*Info, error)
}

// Restarter reboots a server.
type Restarter interface {
	Restart(ctx context.Context, serverID string) (*Info, error)
}

// PasswordResetter resets the server's root credentials.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, serverID string) (*PasswordResetInfo, error)
}

// Prolonger gives a backend the chance to act when an instance's lifetime is
// extended. Returning (nil, nil) means "nothing to do"; the dispatcher then
// re-fetches info instead.
type Prolonger interface {
	Prolong(ctx context.Context, serverID string) (*Info, error)
}

// InstanceUpdate carries the instance fields a backend result may overwrite.
// Nil fields are left untouched when folded onto an instance.
type InstanceUpdate struct {
	Usage          *string
	UserMessage    *string
	ServerID       *string
	ServerName     *string
	ServerAddress  *string
	ServerUser     *string
	ServerPassword *string
	ServerState    *ServerState
}

// Update extracts the updatable instance fields from an Info result.
func (i *Info) Update() InstanceUpdate {
	u := InstanceUpdate{
		ServerUser:     i.ServerUser,
		ServerPassword: i.ServerPassword,
		Usage:          i.Usage,
	}
	if i.ServerID != "" {
		u.ServerID = &i.ServerID
	}
	if i.ServerName != "" {
		u.ServerName = &i.ServerName
	}
	if i.ServerAddress != "" {
		u.ServerAddress = &i.ServerAddress
	}
	state := i.ServerState
	u.ServerState = &state
	if i.Message != nil && i.Message.UserMessage != "" {
		u.UserMessage = &i.Message.UserMessage
	}
	return u
}

// Update extracts the updatable instance fields from a password reset result.
func (p *PasswordResetInfo) Update() InstanceUpdate {
	u := InstanceUpdate{
		ServerUser:     &p.ServerUser,
		ServerPassword: &p.ServerPassword,
	}
	if p.ServerID != "" {
		u.ServerID = &p.ServerID
	}
	return u
}

// Update for a deletion result never carries instance fields; the row is
// removed rather than updated. It exists so all results share one fold path.
func (d *DeletedInfo) Update() InstanceUpdate {
	return InstanceUpdate{}
}
