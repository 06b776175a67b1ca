package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/iahome/backend/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sync-oauth-profile", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/sync-oauth-profile", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestRejectsMissingHeaderWithoutLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/sync-oauth-profile", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrMissingSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d", recorder.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestSessionSubjectMustMatchRequestIdentity(t *testing.T) {
	reconciler := &stubReconciler{}
	activator := &stubActivator{}
	router := newTestRouter(t, Dependencies{
		Reconciler: reconciler,
		Activator:  activator,
		Sessions: stubSessionValidator{claims: auth.SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-a"},
		}},
	})

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "sync", method: http.MethodPost, path: "/sync-oauth-profile", body: map[string]string{"authUserId": "user-b", "email": "b@example.com"}},
		{name: "activate", method: http.MethodPost, path: "/api/activate-module", body: map[string]string{"userId": "user-b", "moduleId": "metube"}},
		{name: "check", method: http.MethodGet, path: "/api/check-module-activation?userId=user-b&moduleId=metube"},
		{name: "token", method: http.MethodPost, path: "/api/generate-access-token", body: map[string]string{"userId": "user-b", "moduleId": "metube"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := performJSON(t, router, testCase.method, testCase.path, testCase.body)
			if recorder.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d: %s", recorder.Code, recorder.Body.String())
			}
		})
	}
	if reconciler.calls != 0 || activator.calls != 0 {
		t.Fatalf("expected no service calls, got reconciler=%d activator=%d", reconciler.calls, activator.calls)
	}

	recorder := performJSON(t, router, http.MethodPost, "/sync-oauth-profile", map[string]string{"authUserId": "user-a", "email": "a@example.com"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected matching identity to pass, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresServices(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Activator: &stubActivator{}}); !errors.Is(err, errMissingReconciler) {
		t.Fatalf("expected missing reconciler error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Reconciler: &stubReconciler{}}); !errors.Is(err, errMissingActivator) {
		t.Fatalf("expected missing activator error, got %v", err)
	}
}
