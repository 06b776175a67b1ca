package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/iahome/backend/internal/activation"
	"github.com/iahome/backend/internal/auth"
	"github.com/iahome/backend/internal/observability"
	"github.com/iahome/backend/internal/profiles"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	sessionSubjectContextKey = "iahome_session_subject"
	defaultServiceName       = "iahome-api"
)

var (
	errMissingReconciler    = errors.New("profile reconciler dependency required")
	errMissingActivator     = errors.New("module activator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type ProfileReconciler interface {
	Reconcile(ctx context.Context, request profiles.ReconcileRequest) (profiles.Result, error)
}

type ModuleActivator interface {
	Activate(ctx context.Context, request activation.ActivateRequest) (activation.ActivateResult, error)
	Check(ctx context.Context, userID, moduleID string) (activation.CheckResult, error)
	GenerateAccessToken(ctx context.Context, userID, moduleID string) (auth.IssuedAccessToken, error)
}

// SessionValidator authenticates the caller from the request's Bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the HTTP surface. Sessions, Health, Metrics and RateLimiter
// are optional; a nil Sessions leaves the API unauthenticated.
type Dependencies struct {
	Reconciler     ProfileReconciler
	Activator      ModuleActivator
	Sessions       SessionValidator
	Health         HealthChecker
	Metrics        *observability.Metrics
	RateLimiter    gin.HandlerFunc
	AllowedOrigins []string
	TracingEnabled bool
	ServiceName    string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if deps.Activator == nil {
		return nil, errMissingActivator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceName := strings.TrimSpace(deps.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.TracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(deps.Metrics.Middleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		reconciler: deps.Reconciler,
		activator:  deps.Activator,
		sessions:   deps.Sessions,
		health:     deps.Health,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	middlewares := []gin.HandlerFunc{}
	if deps.RateLimiter != nil {
		middlewares = append(middlewares, deps.RateLimiter)
	}
	middlewares = append(middlewares, handler.authorizeRequest)

	syncChain := append(append([]gin.HandlerFunc{}, middlewares...), handler.handleSyncProfile)
	router.POST("/sync-oauth-profile", syncChain...)

	api := router.Group("/api")
	api.Use(middlewares...)
	api.POST("/sync-oauth-profile", handler.handleSyncProfile)
	api.POST("/activate-module", handler.handleActivateModule)
	api.GET("/check-module-activation", handler.handleCheckModuleActivation)
	api.POST("/generate-access-token", handler.handleGenerateAccessToken)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Apikey", "X-Client-Info"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	reconciler ProfileReconciler
	activator  ModuleActivator
	sessions   SessionValidator
	health     HealthChecker
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest validates the auth-provider session when a validator is
// configured and stores its subject for identity checks in the handlers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.sessions == nil {
		c.Next()
		return
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, jwt.ErrTokenExpired):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionSubjectContextKey, claims.Subject)
	c.Next()
}

// sameIdentity reports whether the request may act as userID. Without a
// session validator every identity is accepted.
func (h *httpHandler) sameIdentity(c *gin.Context, userID string) bool {
	if h.sessions == nil {
		return true
	}
	return c.GetString(sessionSubjectContextKey) == strings.TrimSpace(userID)
}
