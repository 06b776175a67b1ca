package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionUserID        = "6f1c2a9e-0000-4000-8000-000000000001"
	testSessionUserEmail     = "user@example.com"
)

func signSessionToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signSessionToken(t, SessionClaims{
		Email: testSessionUserEmail,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testSessionUserID,
			Audience:  jwt.ClaimStrings{defaultSessionAudience},
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != testSessionUserEmail {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signSessionToken(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testSessionUserID,
			Audience:  jwt.ClaimStrings{defaultSessionAudience},
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongIssuerAndAudience(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        "https://project.supabase.co/auth/v1",
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	testCases := []struct {
		name     string
		issuer   string
		audience string
	}{
		{name: "wrong-issuer", issuer: "https://elsewhere.example.com", audience: defaultSessionAudience},
		{name: "wrong-audience", issuer: "https://project.supabase.co/auth/v1", audience: "anon"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			signed := signSessionToken(t, SessionClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   testSessionUserID,
					Issuer:    testCase.issuer,
					Audience:  jwt.ClaimStrings{testCase.audience},
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			})
			if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
				t.Fatalf("expected invalid token error, got %v", err)
			}
		})
	}
}

func TestSessionValidatorRejectsMissingSubject(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte(testSessionSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	signed := signSessionToken(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{defaultSessionAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesBearerHeader(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signSessionToken(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testSessionUserID,
			Audience:  jwt.ClaimStrings{defaultSessionAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	request := httptest.NewRequest(http.MethodPost, "/sync-oauth-profile", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	bare := httptest.NewRequest(http.MethodPost, "/sync-oauth-profile", http.NoBody)
	if _, err := validator.ValidateRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresSecret(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}
