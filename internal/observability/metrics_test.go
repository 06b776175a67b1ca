package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	engine := gin.New()
	engine.Use(metrics.Middleware())
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `iahome_http_request_duration_seconds_count{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz observation in exposition, got:\n%s", body)
	}
}

func TestMetricsCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordReconciliation("needs_create", "success")
	metrics.RecordReconciliation("needs_create", "success")
	metrics.RecordWelcomeGrant("created")
	metrics.RecordActivation("insufficient_tokens")
	metrics.RecordAccessToken("issued")

	if got := testutil.ToFloat64(metrics.reconciliations.WithLabelValues("needs_create", "success")); got != 2 {
		t.Fatalf("expected 2 reconciliations, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.welcomeGrants.WithLabelValues("created")); got != 1 {
		t.Fatalf("expected 1 welcome grant, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activations.WithLabelValues("insufficient_tokens")); got != 1 {
		t.Fatalf("expected 1 refused activation, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.accessTokens.WithLabelValues("issued")); got != 1 {
		t.Fatalf("expected 1 issued token, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordReconciliation("needs_merge", "success")
	metrics.RecordWelcomeGrant("failed")
	metrics.RecordActivation("activated")
	metrics.RecordAccessToken("issued")
	if metrics.Registry() != nil {
		t.Fatalf("expected nil registry")
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(metrics.Middleware())
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected passthrough, got %d", recorder.Code)
	}
}
