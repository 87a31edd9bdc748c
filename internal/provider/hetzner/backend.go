// Package hetzner implements the provider capability contract against the
// Hetzner Cloud API. It supports the full optional capability set except
// Prolong: extending an instance's lifetime needs no backend work on Hetzner,
// so the dispatcher falls back to GetInfo.
package hetzner

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/serverfleet/serverfleet/internal/provider"
)

// Key is the registry key templates use to reference this backend.
const Key = "hetzner"

// rootUser is the account Hetzner provisions images with.
const rootUser = "root"

// statusToState maps hcloud server status strings onto lifecycle states.
var statusToState = map[string]provider.ServerState{
	"running":      provider.StateRunning,
	"initializing": provider.StateCreating,
	"starting":     provider.StateCreating,
	"stopping":     provider.StateStopped,
	"off":          provider.StateStopped,
	"deleting":     provider.StateRunning,
	"migrating":    provider.StateStopped,
	"rebuilding":   provider.StateStopped,
	"unknown":      provider.StateUnknown,
}

// Config holds the deployment-level settings for the Hetzner backend.
type Config struct {
	Token  string
	APIURL string
	// ActionWait is how long mutating power actions wait before reporting
	// state, giving the action time to settle. Zero disables the wait
	// (used in tests).
	ActionWait time.Duration
}

// Backend implements provider.Backend plus the Starter, Stopper, Restarter,
// and PasswordResetter capabilities.
type Backend struct {
	api *client

	variant    string // label and name prefix, from template params
	serverType string // hcloud server type, e.g. "cx22"
	image      string // image or snapshot name
	location   string
	actionWait time.Duration
}

// NewFactory returns a provider.Factory bound to cfg. Template params may
// carry "variant", "server_type", "image", and "location" overrides.
func NewFactory(cfg Config) provider.Factory {
	return func(params map[string]any) (provider.Backend, error) {
		if cfg.Token == "" {
			return nil, fmt.Errorf("hetzner: missing API token")
		}
		b := &Backend{
			api:        newClient(cfg.APIURL, cfg.Token, 0),
			serverType: "cx22",
			actionWait: cfg.ActionWait,
		}
		if v, ok := params["variant"].(string); ok {
			b.variant = v
		}
		if v, ok := params["server_type"].(string); ok {
			b.serverType = v
		}
		if v, ok := params["image"].(string); ok {
			b.image = v
		}
		if v, ok := params["location"].(string); ok {
			b.location = v
		}
		if b.image == "" {
			return nil, fmt.Errorf("hetzner: template params must set an image")
		}
		return b, nil
	}
}

// RegisterInto adds this backend to reg under Key. Called once from the
// startup discovery phase; a missing token only fails at Resolve time so
// deployments without Hetzner templates can still boot.
func RegisterInto(reg *provider.Registry, cfg Config) {
	reg.Register(Key, NewFactory(cfg))
}

func (b *Backend) info(s *apiServer) *provider.Info {
	state, ok := statusToState[s.Status]
	if !ok {
		state = provider.StateUnknown
	}
	return &provider.Info{
		ServerID:      fmt.Sprintf("%d", s.ID),
		ServerName:    s.Name,
		ServerState:   state,
		CreatedAt:     s.Created,
		ServerAddress: s.PublicNet.IPv4.IP,
		Labels:        s.Labels,
	}
}

// Create provisions a new server named after the variant plus a random
// suffix, labelled with the owning user for traceability in the Hetzner
// console.
func (b *Backend) Create(ctx context.Context, req provider.CreateRequest) (*provider.CreatedInfo, error) {
	name := fmt.Sprintf("%s-%s-%s", b.variantOrDefault(), randomName(6), randomName(6))
	resp, err := b.api.createServer(ctx, createServerRequest{
		Name:       name,
		ServerType: b.serverType,
		Image:      b.image,
		Location:   b.location,
		Labels: map[string]string{
			"usage":      b.variantOrDefault(),
			"username":   req.UserID,
			"created-on": time.Now().UTC().Format("2006-01-02T15-04"),
		},
	})
	if err != nil {
		return nil, err
	}

	info := b.info(&resp.Server)
	user := rootUser
	info.ServerUser = &user
	if resp.RootPassword != "" {
		pw := resp.RootPassword
		info.ServerPassword = &pw
	}
	return &provider.CreatedInfo{Info: *info, Description: req.Description}, nil
}

// GetInfo fetches the server's current state.
func (b *Backend) GetInfo(ctx context.Context, serverID string) (*provider.Info, error) {
	s, err := b.api.getServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return b.info(s), nil
}

// Delete destroys the server. Retry-on-failure policy lives in the
// dispatcher, not here.
func (b *Backend) Delete(ctx context.Context, serverID string) (*provider.DeletedInfo, error) {
	if err := b.api.deleteServer(ctx, serverID); err != nil {
		return nil, err
	}
	return &provider.DeletedInfo{ServerID: serverID, Deleted: true}, nil
}

// Start powers the server on.
func (b *Backend) Start(ctx context.Context, serverID string) (*provider.Info, error) {
	return b.action(ctx, serverID, "poweron")
}

// Stop powers the server off.
func (b *Backend) Stop(ctx context.Context, serverID string) (*provider.Info, error) {
	return b.action(ctx, serverID, "poweroff")
}

// Restart reboots the server.
func (b *Backend) Restart(ctx context.Context, serverID string) (*provider.Info, error) {
	return b.action(ctx, serverID, "reboot")
}

// ResetPassword resets the root password and returns the new credentials.
func (b *Backend) ResetPassword(ctx context.Context, serverID string) (*provider.PasswordResetInfo, error) {
	pw, err := b.api.resetPassword(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return &provider.PasswordResetInfo{
		ServerID:       serverID,
		ServerUser:     rootUser,
		ServerPassword: pw,
	}, nil
}

func (b *Backend) action(ctx context.Context, serverID, action string) (*provider.Info, error) {
	if err := b.api.serverAction(ctx, serverID, action); err != nil {
		return nil, err
	}
	// Give the action time to settle so the state we report reflects it.
	if b.actionWait > 0 {
		select {
		case <-time.After(b.actionWait):
		case <-ctx.Done():
			return nil, provider.NewBackendError(action, 0, "cancelled while waiting for action", ctx.Err())
		}
	}
	return b.GetInfo(ctx, serverID)
}

func (b *Backend) variantOrDefault() string {
	if b.variant == "" {
		return "server"
	}
	return b.variant
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// randomName returns a random letters-only string for server names.
func randomName(n int) string {
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(nameAlphabet))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a fixed letter rather than aborting a create.
			out[i] = 'x'
			continue
		}
		out[i] = nameAlphabet[idx.Int64()]
	}
	return string(out)
}
