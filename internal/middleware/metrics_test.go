package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/serverfleet/serverfleet/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// metricLabels reports whether a written metric carries all wanted labels.
func metricLabels(dm *dto.Metric, labels prometheus.Labels) bool {
	for k, want := range labels {
		found := false
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// counterValue reads the current value from a CounterVec for the given label
// values, -1 when the series does not exist yet.
func counterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if metricLabels(&dm, labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return -1
}

// histogramCount returns the sample count from a HistogramVec for the labels.
func histogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	ch := make(chan prometheus.Metric, 20)
	hv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if metricLabels(&dm, labels) {
			return dm.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// newInstrumentedRouter mounts MetricsMiddleware in front of a lifecycle-style
// route so the path label carries the route template.
func newInstrumentedRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.POST("/v1/instances/:id/start", func(c *gin.Context) {
		c.Status(status)
	})
	return r
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	labels := prometheus.Labels{"method": "POST", "path": "/v1/instances/:id/start", "status": "202"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	r := newInstrumentedRouter(http.StatusAccepted)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/instances/inst-1/start", nil))

	after := counterValue(telemetry.HTTPRequestsTotal, labels)
	if before < 0 {
		before = 0
	}
	if after-before < 1 {
		t.Errorf("http_requests_total not incremented: before=%.0f after=%.0f", before, after)
	}
}

func TestMetricsMiddlewareObservesDuration(t *testing.T) {
	labels := prometheus.Labels{"method": "POST", "path": "/v1/instances/:id/start"}
	before := histogramCount(telemetry.HTTPRequestDuration, labels)

	r := newInstrumentedRouter(http.StatusAccepted)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/instances/inst-2/start", nil))

	if after := histogramCount(telemetry.HTTPRequestDuration, labels); after <= before {
		t.Errorf("duration sample count did not increase: before=%d after=%d", before, after)
	}
}

func TestMetricsMiddlewareLabelsByRouteTemplate(t *testing.T) {
	// Instance ids must never become label values; cardinality would grow with
	// every server ever ordered.
	r := newInstrumentedRouter(http.StatusAccepted)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/instances/inst-42/start", nil))

	ch := make(chan prometheus.Metric, 20)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" && lp.GetValue() == "/v1/instances/inst-42/start" {
				t.Error("raw URL used as path label; expected the route template")
			}
		}
	}
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	// Unregistered paths collapse into the <no-route> sentinel for the same
	// cardinality reason.
	r := gin.New()
	r.Use(MetricsMiddleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	found := false
	ch := make(chan prometheus.Metric, 20)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" && lp.GetValue() == "<no-route>" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected <no-route> path label for unmatched request")
	}
}

func TestMetricsMiddlewareCountsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "POST", "path": "/v1/instances/:id/start", "status": "500"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	r := newInstrumentedRouter(http.StatusInternalServerError)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/instances/inst-3/start", nil))

	after := counterValue(telemetry.HTTPRequestsTotal, labels)
	if before < 0 {
		before = 0
	}
	if after-before < 1 {
		t.Errorf("http_requests_total for status=500 not incremented: before=%.0f after=%.0f", before, after)
	}
}
