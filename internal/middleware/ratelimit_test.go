package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGetRateLimitKey_PrefersUserID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/v1/instances", nil)
	c.Set("user_id", "user-42")

	if got := getRateLimitKey(c); got != "user:user-42" {
		t.Errorf("getRateLimitKey = %q, want user:user-42", got)
	}
}

func TestGetRateLimitKey_FallsBackToIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/v1/instances", nil)
	c.Request.RemoteAddr = "198.51.100.7:1234"

	got := getRateLimitKey(c)
	if got != "ip:198.51.100.7" {
		t.Errorf("getRateLimitKey = %q, want ip:198.51.100.7", got)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute <= 0 || cfg.BurstSize <= 0 {
		t.Errorf("defaults must be positive: %+v", cfg)
	}
}
