// ratelimit.go provides Gin middleware that enforces per-client rate limits
// backed by Redis, returning 429 responses when the configured
// requests-per-minute threshold is exceeded. Redis-side counters mean the
// limit holds across all replicas of the service.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
}

// DefaultRateLimitConfig returns sensible defaults for the mutating
// lifecycle routes. Every accepted request here fans out into backend API
// calls, so the limit is deliberately low.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
	}
}

// RateLimiter wraps the Redis-backed GCRA limiter.
type RateLimiter struct {
	limiter *redis_rate.Limiter
	config  RateLimitConfig
}

// NewRateLimiter creates a rate limiter on the given Redis client.
func NewRateLimiter(rdb *redis.Client, config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		config:  config,
	}
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests.
// When Redis is unreachable the middleware fails open; dropping requests
// because the limiter store is down would turn a Redis outage into a full
// API outage.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	limit := redis_rate.Limit{
		Rate:   rl.config.RequestsPerMinute,
		Burst:  rl.config.BurstSize,
		Period: time.Minute,
	}

	return func(c *gin.Context) {
		res, err := rl.limiter.Allow(c.Request.Context(), getRateLimitKey(c), limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
