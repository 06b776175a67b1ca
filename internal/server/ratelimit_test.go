package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/iahome/backend/internal/observability"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterMemoryStore(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{Rate: "2-M"})
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	router := newTestRouter(t, Dependencies{RateLimiter: limiter})
	body := map[string]string{"userId": "user-a", "moduleId": "metube"}

	for attempt := 1; attempt <= 2; attempt++ {
		if recorder := performJSON(t, router, http.MethodPost, "/api/generate-access-token", body); recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", attempt, recorder.Code)
		}
	}
	recorder := performJSON(t, router, http.MethodPost, "/api/generate-access-token", body)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "rate_limit_exceeded" {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}

	if health := performJSON(t, router, http.MethodGet, "/healthz", nil); health.Code != http.StatusOK {
		t.Fatalf("expected healthz to bypass the limiter, got %d", health.Code)
	}
}

func TestRateLimiterRedisStore(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRateLimiter(RateLimitConfig{Rate: "1-M", Redis: client, Prefix: "test"})
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	router := newTestRouter(t, Dependencies{RateLimiter: limiter})
	body := map[string]string{"authUserId": "user-a", "email": "a@example.com"}

	if recorder := performJSON(t, router, http.MethodPost, "/sync-oauth-profile", body); recorder.Code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", recorder.Code)
	}
	if recorder := performJSON(t, router, http.MethodPost, "/sync-oauth-profile", body); recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}

	keys := server.Keys()
	if len(keys) == 0 || !strings.HasPrefix(keys[0], "test") {
		t.Fatalf("expected limiter counters in redis, got %v", keys)
	}
}

func TestRateLimiterDisabledAndInvalid(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimitConfig{})
	if err != nil || limiter != nil {
		t.Fatalf("expected disabled limiter, got %v %v", limiter, err)
	}
	if _, err := NewRateLimiter(RateLimitConfig{Rate: "lots"}); err == nil {
		t.Fatalf("expected invalid rate error")
	}
}

func TestMetricsRouteExposesRequests(t *testing.T) {
	metrics := observability.NewMetrics()
	router := newTestRouter(t, Dependencies{Metrics: metrics})

	performJSON(t, router, http.MethodPost, "/sync-oauth-profile", map[string]string{"authUserId": "user-a", "email": "a@example.com"})
	recorder := performJSON(t, router, http.MethodGet, "/metrics", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `iahome_profile_reconciliations_total{outcome="success",resolution="already_canonical"} 1`) {
		t.Fatalf("expected reconciliation counter, got:\n%s", recorder.Body.String())
	}
}
