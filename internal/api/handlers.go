// handlers.go implements the instance lifecycle HTTP handlers. All mutating
// handlers return 202: a successful response means the operation was accepted
// and enqueued, not that the backend finished it. Clients observe progress by
// polling the instance resource.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/provider"
	"github.com/serverfleet/serverfleet/internal/service"
)

// LifecycleService is the service surface the handlers depend on.
type LifecycleService interface {
	CreateInstance(ctx context.Context, req service.Requester, templateID string) (*models.ServerInstance, error)
	GetInstance(ctx context.Context, req service.Requester, instanceID string) (*models.ServerInstance, error)
	ListRecords(ctx context.Context, req service.Requester, instanceID string) ([]*models.ExecutionRecord, error)
	Start(ctx context.Context, req service.Requester, instanceID string) error
	Stop(ctx context.Context, req service.Requester, instanceID string) error
	Restart(ctx context.Context, req service.Requester, instanceID string) error
	ResetPassword(ctx context.Context, req service.Requester, instanceID string) error
	Delete(ctx context.Context, req service.Requester, instanceID string) error
	ProlongBySecret(ctx context.Context, instanceID, secret string) error
}

// Handler holds the lifecycle handlers.
type Handler struct {
	svc LifecycleService
}

// NewHandler creates the handler set.
func NewHandler(svc LifecycleService) *Handler {
	return &Handler{svc: svc}
}

type createInstanceRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// instanceResponse is the wire form of an instance. The password is included:
// only the owner (or a superuser) can reach this handler, and the password is
// the whole point of ordering a throwaway server.
type instanceResponse struct {
	ID                string    `json:"id"`
	TemplateID        string    `json:"template_id"`
	Usage             string    `json:"usage"`
	UserMessage       *string   `json:"user_message,omitempty"`
	ServerID          *string   `json:"server_id,omitempty"`
	ServerName        string    `json:"server_name,omitempty"`
	ServerAddress     *string   `json:"server_address,omitempty"`
	ServerUser        *string   `json:"server_user,omitempty"`
	ServerPassword    *string   `json:"server_password,omitempty"`
	ServerState       string    `json:"server_state"`
	RemovalAt         time.Time `json:"removal_at"`
	MarkedForDeletion bool      `json:"marked_for_deletion"`
	CreatedAt         time.Time `json:"created_at"`
}

func toInstanceResponse(inst *models.ServerInstance) instanceResponse {
	return instanceResponse{
		ID:                inst.ID,
		TemplateID:        inst.TemplateID,
		Usage:             inst.Usage,
		UserMessage:       inst.UserMessage,
		ServerID:          inst.ServerID,
		ServerName:        inst.ServerName,
		ServerAddress:     inst.ServerAddress,
		ServerUser:        inst.ServerUser,
		ServerPassword:    inst.ServerPassword,
		ServerState:       inst.ServerState.String(),
		RemovalAt:         inst.RemovalAt,
		MarkedForDeletion: inst.MarkedForDeletion,
		CreatedAt:         inst.CreatedAt,
	}
}

type recordResponse struct {
	ID           string    `json:"id"`
	TaskName     string    `json:"task_name"`
	UserMessage  *string   `json:"user_message,omitempty"`
	UserTrace    *string   `json:"user_trace,omitempty"`
	AdminMessage *string   `json:"admin_message,omitempty"`
	AdminTrace   *string   `json:"admin_trace,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateInstance handles POST /v1/instances.
func (h *Handler) CreateInstance(c *gin.Context) {
	var body createInstanceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id is required"})
		return
	}

	inst, err := h.svc.CreateInstance(c.Request.Context(), requesterFrom(c), body.TemplateID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toInstanceResponse(inst))
}

// GetInstance handles GET /v1/instances/:id.
func (h *Handler) GetInstance(c *gin.Context) {
	inst, err := h.svc.GetInstance(c.Request.Context(), requesterFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(inst))
}

// ListRecords handles GET /v1/instances/:id/records.
func (h *Handler) ListRecords(c *gin.Context) {
	req := requesterFrom(c)
	records, err := h.svc.ListRecords(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		r := recordResponse{
			ID:          rec.ID,
			TaskName:    rec.TaskName,
			UserMessage: rec.UserMessage,
			UserTrace:   rec.UserTrace,
			CreatedAt:   rec.CreatedAt,
		}
		if req.Superuser {
			r.AdminMessage = rec.AdminMessage
			r.AdminTrace = rec.AdminTrace
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

// Start handles POST /v1/instances/:id/start.
func (h *Handler) Start(c *gin.Context) {
	h.accept(c, h.svc.Start)
}

// Stop handles POST /v1/instances/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	h.accept(c, h.svc.Stop)
}

// Restart handles POST /v1/instances/:id/restart.
func (h *Handler) Restart(c *gin.Context) {
	h.accept(c, h.svc.Restart)
}

// ResetPassword handles POST /v1/instances/:id/reset-password.
func (h *Handler) ResetPassword(c *gin.Context) {
	h.accept(c, h.svc.ResetPassword)
}

// DeleteInstance handles DELETE /v1/instances/:id.
func (h *Handler) DeleteInstance(c *gin.Context) {
	h.accept(c, h.svc.Delete)
}

// Prolong handles GET /v1/instances/:id/prolong/:secret. It is a GET because
// the link arrives in a mail and must work from a plain browser click.
func (h *Handler) Prolong(c *gin.Context) {
	err := h.svc.ProlongBySecret(c.Request.Context(), c.Param("id"), c.Param("secret"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "prolong requested"})
}

func (h *Handler) accept(c *gin.Context, op func(context.Context, service.Requester, string) error) {
	if err := op(c.Request.Context(), requesterFrom(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// abortWithError maps service errors to HTTP statuses. Unknown errors get a
// generic 500 body; details stay in the log so internals never leak to
// clients.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, service.ErrInvalidSecret):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrDuplicateInstance):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotProlongable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrUnknownProvider):
		slog.Error("request failed on provider resolution", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		slog.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
