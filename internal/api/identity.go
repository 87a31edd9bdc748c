// identity.go extracts the caller's identity from trusted proxy headers.
// Authentication proper lives upstream (SSO proxy, API gateway); this service
// only consumes the result. The headers must therefore never be reachable
// from untrusted clients directly.
package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/serverfleet/serverfleet/internal/service"
)

const (
	// UserIDHeader carries the caller's stable user id (often their email).
	UserIDHeader = "X-User-ID"
	// UserGroupsHeader carries a comma-separated list of group memberships.
	UserGroupsHeader = "X-User-Groups"
	// SuperuserHeader is "true" for administrators.
	SuperuserHeader = "X-Superuser"
)

// requesterFrom builds the service-level requester from the proxy headers.
// An empty user id means an unauthenticated caller; the service gates on
// that, not the transport.
func requesterFrom(c *gin.Context) service.Requester {
	userID := strings.TrimSpace(c.GetHeader(UserIDHeader))

	var groups []string
	if raw := c.GetHeader(UserGroupsHeader); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
	}

	req := service.Requester{
		ID:            userID,
		Groups:        groups,
		Superuser:     strings.EqualFold(c.GetHeader(SuperuserHeader), "true"),
		Authenticated: userID != "",
	}

	// Expose the user id to the rate limiter.
	if userID != "" {
		c.Set("user_id", userID)
	}
	return req
}
