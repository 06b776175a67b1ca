package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/iahome/backend/internal/activation"
	"github.com/iahome/backend/internal/auth"
	"github.com/iahome/backend/internal/profiles"
)

type stubReconciler struct {
	result   profiles.Result
	err      error
	calls    int
	requests []profiles.ReconcileRequest
}

func (s *stubReconciler) Reconcile(_ context.Context, request profiles.ReconcileRequest) (profiles.Result, error) {
	s.calls++
	s.requests = append(s.requests, request)
	return s.result, s.err
}

type stubActivator struct {
	activateResult activation.ActivateResult
	checkResult    activation.CheckResult
	issued         auth.IssuedAccessToken
	err            error
	calls          int
}

func (s *stubActivator) Activate(context.Context, activation.ActivateRequest) (activation.ActivateResult, error) {
	s.calls++
	return s.activateResult, s.err
}

func (s *stubActivator) Check(context.Context, string, string) (activation.CheckResult, error) {
	s.calls++
	return s.checkResult, s.err
}

func (s *stubActivator) GenerateAccessToken(context.Context, string, string) (auth.IssuedAccessToken, error) {
	s.calls++
	return s.issued, s.err
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

func newTestRouter(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Reconciler == nil {
		deps.Reconciler = &stubReconciler{}
	}
	if deps.Activator == nil {
		deps.Activator = &stubActivator{}
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return handler
}

func performJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}
