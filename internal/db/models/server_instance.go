// server_instance.go defines the ServerInstance model, a concrete provisioned
// server owned by a user and tracked through its lifecycle.
package models

import (
	"time"

	"github.com/serverfleet/serverfleet/internal/provider"
)

// ServerInstance is one provisioned server. The server_* fields are assigned
// by the backend and stay nil/empty until the create task folds its result
// in. State is only ever set by folding dispatcher results, never inferred.
type ServerInstance struct {
	ID         string
	UserID     string
	TemplateID string
	Usage      string
	// UserMessage is the rendered per-instance message shown to the owner.
	UserMessage *string
	// RemovalAt is the absolute deadline after which the due-removal sweep
	// enqueues deletion.
	RemovalAt time.Time

	ServerID       *string
	ServerName     string
	ServerAddress  *string
	ServerUser     *string
	// ServerPassword is stored in plain text so it can be displayed to the
	// owner again.
	ServerPassword *string
	ServerState    provider.ServerState

	NotifyBeforeDestroy bool
	InfoMailSent        bool
	// ProlongSecret is a single-use token embedded in the prolong link of
	// the notification mail.
	ProlongSecret *string
	// MarkedForDeletion is the soft-delete flag set when deletion is
	// requested; the row is hard-deleted only once the delete task ran.
	MarkedForDeletion bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fold applies a backend result's updates onto the instance. Only non-nil
// fields overwrite; absent fields keep their current value.
func (s *ServerInstance) Fold(u provider.InstanceUpdate) {
	if u.Usage != nil {
		s.Usage = *u.Usage
	}
	if u.UserMessage != nil {
		s.UserMessage = u.UserMessage
	}
	if u.ServerID != nil {
		s.ServerID = u.ServerID
	}
	if u.ServerName != nil {
		s.ServerName = *u.ServerName
	}
	if u.ServerAddress != nil {
		s.ServerAddress = u.ServerAddress
	}
	if u.ServerUser != nil {
		s.ServerUser = u.ServerUser
	}
	if u.ServerPassword != nil {
		s.ServerPassword = u.ServerPassword
	}
	if u.ServerState != nil {
		s.ServerState = *u.ServerState
	}
}
