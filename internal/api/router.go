// Package api wires together all HTTP routes for the server fleet service.
//
// Route grouping philosophy:
//   - /healthz is unauthenticated and unlimited so load balancers can probe
//     it freely.
//   - The prolong link is reachable without identity headers; possession of
//     the single-use secret is the authorization.
//   - Everything else under /v1/instances derives its identity from trusted
//     proxy headers and is rate limited when Redis is available.
package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/serverfleet/serverfleet/internal/config"
	"github.com/serverfleet/serverfleet/internal/middleware"
)

// NewRouter creates and configures the Gin router. rdb may be nil; rate
// limiting is then disabled.
func NewRouter(cfg *config.Config, db *sql.DB, svc LifecycleService, rdb *redis.Client) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	handler := NewHandler(svc)

	router.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	// The prolong link must work from a bare mail client, outside any proxy
	// session, so it sits before the rate limiter and identity handling.
	v1.GET("/instances/:id/prolong/:secret", handler.Prolong)

	instances := v1.Group("/instances")
	if cfg.Security.RateLimiting.Enabled && rdb != nil {
		limiter := middleware.NewRateLimiter(rdb, middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
		})
		instances.Use(middleware.RateLimitMiddleware(limiter))
	}

	instances.POST("", handler.CreateInstance)
	instances.GET("/:id", handler.GetInstance)
	instances.GET("/:id/records", handler.ListRecords)
	instances.POST("/:id/start", handler.Start)
	instances.POST("/:id/stop", handler.Stop)
	instances.POST("/:id/restart", handler.Restart)
	instances.POST("/:id/reset-password", handler.ResetPassword)
	instances.DELETE("/:id", handler.DeleteInstance)

	return router
}
