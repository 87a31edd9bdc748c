package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newRequestIDRouter mounts RequestIDMiddleware in front of a handler that
// echoes the context-stored id back in a second header.
func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/v1/instances/:id", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.Header("X-Context-Request-ID", id.(string))
		c.Status(http.StatusOK)
	})
	return r
}

func getInstance(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/instances/inst-1", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	w := getInstance(newRequestIDRouter(), "")

	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("no X-Request-ID response header set")
	}
	// uuid.New() output: 36 characters with dashes at fixed positions.
	if len(id) != 36 || id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
		t.Errorf("generated id is not UUID-shaped: %q", id)
	}
}

func TestRequestIDFromProxyIsReused(t *testing.T) {
	const upstream = "proxy-assigned-id-001"
	w := getInstance(newRequestIDRouter(), upstream)

	if got := w.Header().Get(RequestIDHeader); got != upstream {
		t.Errorf("response X-Request-ID = %q, want the upstream id %q", got, upstream)
	}
}

func TestRequestIDStoredInContext(t *testing.T) {
	w := getInstance(newRequestIDRouter(), "")

	responseID := w.Header().Get(RequestIDHeader)
	contextID := w.Header().Get("X-Context-Request-ID")
	if contextID == "" || responseID != contextID {
		t.Errorf("context id %q does not match response header %q", contextID, responseID)
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	r := newRequestIDRouter()
	ids := make(map[string]struct{}, 10)
	for i := 0; i < 10; i++ {
		id := getInstance(r, "").Header().Get(RequestIDHeader)
		if _, seen := ids[id]; seen {
			t.Fatalf("duplicate request id %q on iteration %d", id, i)
		}
		ids[id] = struct{}{}
	}
}
