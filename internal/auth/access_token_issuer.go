package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTokenTTL      = time.Hour
	defaultAccessTokenIssuer   = "iahome"
	accessTokenTypeBearer      = "Bearer"
	defaultAccessTokenAudience = "iahome-modules"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingModuleClaim   = errors.New("module claim must be provided")
)

// AccessTokenClaims are carried by module access tokens.
type AccessTokenClaims struct {
	ModuleID string `json:"module_id"`
	jwt.RegisteredClaims
}

// AccessTokenIssuerConfig configures the module access token issuer.
type AccessTokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// IssuedAccessToken is the signed token plus its lifetime in seconds.
type IssuedAccessToken struct {
	Token     string
	ExpiresIn int64
	TokenType string
	ExpiresAt time.Time
}

// AccessTokenIssuer issues HS256 JWTs granting a user access to one module.
type AccessTokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewAccessTokenIssuer constructs an AccessTokenIssuer with defaults applied.
func NewAccessTokenIssuer(cfg AccessTokenIssuerConfig) (*AccessTokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultAccessTokenIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAccessTokenAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AccessTokenIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		clock:    clock,
	}, nil
}

// Issue signs a token for userID scoped to moduleID.
func (i *AccessTokenIssuer) Issue(userID string, moduleID string) (IssuedAccessToken, error) {
	if strings.TrimSpace(userID) == "" {
		return IssuedAccessToken{}, errMissingSubjectClaim
	}
	if strings.TrimSpace(moduleID) == "" {
		return IssuedAccessToken{}, errMissingModuleClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := AccessTokenClaims{
		ModuleID: moduleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return IssuedAccessToken{}, err
	}
	return IssuedAccessToken{
		Token:     signed,
		ExpiresIn: int64(i.ttl.Seconds()),
		TokenType: accessTokenTypeBearer,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate parses a module access token and returns its claims.
func (i *AccessTokenIssuer) Validate(tokenString string) (AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return AccessTokenClaims{}, err
	}
	if claims.Subject == "" {
		return AccessTokenClaims{}, errMissingSubjectClaim
	}
	if claims.ModuleID == "" {
		return AccessTokenClaims{}, errMissingModuleClaim
	}
	return *claims, nil
}
