package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request
	// identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request id is
	// stored for handlers and other middleware.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a unique identifier. An
// inbound X-Request-ID (set by the SSO proxy or load balancer in front of
// this service) is reused unchanged; otherwise a UUID is generated. The id is
// stored in the gin context and echoed in the response header so a user
// reporting a failed lifecycle action can be correlated with the execution
// records and logs of the task that ran for it.
//
// Register it before the metrics and rate-limit middleware so every
// downstream log line can include the id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
