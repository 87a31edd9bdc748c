// Package models - server_template.go defines the ServerTemplate model, the
// purchasable configuration a user picks when requesting a server.
package models

import "time"

// ServerTemplate describes a server offering: which provider backend builds
// it, how long it lives, and who may order one.
type ServerTemplate struct {
	ID          string
	Name        string
	Description string
	// UserMessage is a text/template body rendered against the create result
	// so the stored message carries final server attributes (address,
	// credentials, ...).
	UserMessage string
	// MaxParallelExecutions caps simultaneously in-flight creations for this
	// template. 0 means unlimited.
	MaxParallelExecutions int
	// RemoveAfterMinutes is the instance time-to-live from creation.
	RemoveAfterMinutes int
	NotifyBeforeDestroy bool
	// AllowedGroups limits ordering to members of these groups; empty means
	// everyone.
	AllowedGroups []string
	// ProlongByDays enables prolonging when set.
	ProlongByDays *int
	// ProviderReference is the key into the provider registry. It must
	// resolve at instance-creation time.
	ProviderReference string
	// TemplateParams is passed opaquely to the backend factory.
	TemplateParams map[string]any
	CreatedAt      time.Time
}

// AllowsGroupOf reports whether a user with the given group memberships may
// order this template. A template without group restrictions is open to
// everyone.
func (t *ServerTemplate) AllowsGroupOf(userGroups []string) bool {
	if len(t.AllowedGroups) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(t.AllowedGroups))
	for _, g := range t.AllowedGroups {
		allowed[g] = struct{}{}
	}
	for _, g := range userGroups {
		if _, ok := allowed[g]; ok {
			return true
		}
	}
	return false
}
