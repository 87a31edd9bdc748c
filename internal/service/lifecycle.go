// Package service is the request boundary for instance lifecycle operations:
// it enforces permission gates synchronously and hands the actual work to the
// task queue. Nothing here talks to a provider backend; a successful call
// only means the operation was accepted.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/dispatch"
	"github.com/serverfleet/serverfleet/internal/provider"
)

var (
	// ErrPermissionDenied is returned before any state change or enqueue when
	// the requester fails a permission gate.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when the referenced template or instance does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateInstance is returned when the requester already owns a live
	// instance of the template. The check is request-time only; two
	// simultaneous requests may both pass.
	ErrDuplicateInstance = errors.New("an active instance of this template already exists")

	// ErrInvalidSecret is returned when a prolong link carries a secret that
	// does not match the instance's stored one.
	ErrInvalidSecret = errors.New("invalid prolong secret")

	// ErrNotProlongable is returned for templates without a prolong step.
	ErrNotProlongable = errors.New("template does not allow prolonging")
)

// Requester identifies the caller of a lifecycle operation.
type Requester struct {
	ID            string
	Groups        []string
	Superuser     bool
	Authenticated bool
}

// InstanceStore is the instance persistence the service needs.
type InstanceStore interface {
	Create(ctx context.Context, s *models.ServerInstance) error
	GetByID(ctx context.Context, instanceID string) (*models.ServerInstance, error)
	Update(ctx context.Context, s *models.ServerInstance) error
	HasActive(ctx context.Context, userID, templateID string) (bool, error)
}

// TemplateStore loads templates.
type TemplateStore interface {
	GetByID(ctx context.Context, templateID string) (*models.ServerTemplate, error)
}

// RecordStore reads the audit trail for an instance.
type RecordStore interface {
	ListForInstance(ctx context.Context, instanceID string, userVisibleOnly bool) ([]*models.ExecutionRecord, error)
}

// Lifecycle accepts lifecycle requests, gates them, and enqueues tasks.
type Lifecycle struct {
	instances InstanceStore
	templates TemplateStore
	records   RecordStore
	registry  *provider.Registry
	queue     dispatch.Queue
}

// NewLifecycle wires the service.
func NewLifecycle(
	instances InstanceStore,
	templates TemplateStore,
	records RecordStore,
	registry *provider.Registry,
	queue dispatch.Queue,
) *Lifecycle {
	return &Lifecycle{
		instances: instances,
		templates: templates,
		records:   records,
		registry:  registry,
		queue:     queue,
	}
}

// CreateInstance orders a new server from a template. The instance row is
// persisted synchronously in state Unknown with its removal deadline set;
// provisioning happens asynchronously in the create task.
//
// Gate: superusers always pass. Everyone else must be authenticated, must not
// already own a live instance of the template, and must be in one of the
// template's allowed groups.
func (l *Lifecycle) CreateInstance(ctx context.Context, req Requester, templateID string) (*models.ServerInstance, error) {
	tmpl, err := l.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrNotFound)
	}

	if !req.Superuser {
		if !req.Authenticated {
			return nil, ErrPermissionDenied
		}
		active, err := l.instances.HasActive(ctx, req.ID, tmpl.ID)
		if err != nil {
			return nil, fmt.Errorf("check active instances: %w", err)
		}
		if active {
			return nil, ErrDuplicateInstance
		}
		if !tmpl.AllowsGroupOf(req.Groups) {
			return nil, ErrPermissionDenied
		}
	}

	// Catch dangling provider references before persisting anything.
	if !l.registry.Has(tmpl.ProviderReference) {
		return nil, fmt.Errorf("template %s: %w: %q", tmpl.ID, provider.ErrUnknownProvider, tmpl.ProviderReference)
	}

	inst := &models.ServerInstance{
		UserID:              req.ID,
		TemplateID:          tmpl.ID,
		Usage:               tmpl.Description,
		ServerState:         provider.StateUnknown,
		RemovalAt:           time.Now().Add(time.Duration(tmpl.RemoveAfterMinutes) * time.Minute),
		NotifyBeforeDestroy: tmpl.NotifyBeforeDestroy,
	}
	if err := l.instances.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("persist instance: %w", err)
	}

	if err := l.queue.Enqueue(ctx, dispatch.NewTask(dispatch.TaskCreate, inst.ID)); err != nil {
		return nil, fmt.Errorf("enqueue create task: %w", err)
	}

	slog.Info("instance ordered",
		"instance", inst.ID, "template", tmpl.Name, "user", req.ID)
	return inst, nil
}

// GetInstance returns an instance, gated like every other per-instance
// operation.
func (l *Lifecycle) GetInstance(ctx context.Context, req Requester, instanceID string) (*models.ServerInstance, error) {
	return l.authorize(ctx, req, instanceID)
}

// ListRecords returns the audit trail of an instance. Non-superusers only see
// entries carrying user-visible text.
func (l *Lifecycle) ListRecords(ctx context.Context, req Requester, instanceID string) ([]*models.ExecutionRecord, error) {
	if _, err := l.authorize(ctx, req, instanceID); err != nil {
		return nil, err
	}
	return l.records.ListForInstance(ctx, instanceID, !req.Superuser)
}

// Start requests a power-on.
func (l *Lifecycle) Start(ctx context.Context, req Requester, instanceID string) error {
	return l.enqueueGated(ctx, req, instanceID, dispatch.TaskStart)
}

// Stop requests a power-off.
func (l *Lifecycle) Stop(ctx context.Context, req Requester, instanceID string) error {
	return l.enqueueGated(ctx, req, instanceID, dispatch.TaskStop)
}

// Restart requests a reboot.
func (l *Lifecycle) Restart(ctx context.Context, req Requester, instanceID string) error {
	return l.enqueueGated(ctx, req, instanceID, dispatch.TaskRestart)
}

// ResetPassword requests new root credentials.
func (l *Lifecycle) ResetPassword(ctx context.Context, req Requester, instanceID string) error {
	return l.enqueueGated(ctx, req, instanceID, dispatch.TaskResetPassword)
}

// Delete soft-marks the instance and enqueues its removal. The row survives
// until the delete task ran; the mark keeps it out of duplicate checks.
func (l *Lifecycle) Delete(ctx context.Context, req Requester, instanceID string) error {
	inst, err := l.authorize(ctx, req, instanceID)
	if err != nil {
		return err
	}

	inst.MarkedForDeletion = true
	if err := l.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("mark instance for deletion: %w", err)
	}

	if err := l.queue.Enqueue(ctx, dispatch.NewTask(dispatch.TaskDelete, inst.ID)); err != nil {
		return fmt.Errorf("enqueue delete task: %w", err)
	}
	return nil
}

// ProlongBySecret extends an instance's lifetime via the single-use secret
// from the expiry notification mail. No requester gate: possession of the
// secret is the authorization.
func (l *Lifecycle) ProlongBySecret(ctx context.Context, instanceID, secret string) error {
	inst, err := l.instances.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w", err)
	}
	if inst == nil {
		return fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if inst.ProlongSecret == nil || secret == "" || *inst.ProlongSecret != secret {
		return ErrInvalidSecret
	}

	tmpl, err := l.templates.GetByID(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if tmpl == nil || tmpl.ProlongByDays == nil {
		return ErrNotProlongable
	}

	if err := l.queue.Enqueue(ctx, dispatch.NewTask(dispatch.TaskProlong, inst.ID)); err != nil {
		return fmt.Errorf("enqueue prolong task: %w", err)
	}
	return nil
}

// enqueueGated is the shared path of the simple per-instance operations.
func (l *Lifecycle) enqueueGated(ctx context.Context, req Requester, instanceID, taskName string) error {
	inst, err := l.authorize(ctx, req, instanceID)
	if err != nil {
		return err
	}
	if err := l.queue.Enqueue(ctx, dispatch.NewTask(taskName, inst.ID)); err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskName, err)
	}
	return nil
}

// authorize loads the instance and applies the owner-or-superuser gate.
func (l *Lifecycle) authorize(ctx context.Context, req Requester, instanceID string) (*models.ServerInstance, error) {
	inst, err := l.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if req.Superuser {
		return inst, nil
	}
	if !req.Authenticated || inst.UserID != req.ID {
		return nil, ErrPermissionDenied
	}
	return inst, nil
}
