package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const defaultRateLimitPrefix = "iahome:ratelimit"

// RateLimitConfig selects the per-client request budget. Rate uses the limiter
// format ("60-M" = 60/min); empty disables limiting. A nil Redis keeps counters
// in process memory.
type RateLimitConfig struct {
	Rate   string
	Redis  redis.UniversalClient
	Prefix string
	Logger *zap.Logger
}

// NewRateLimiter returns a gin middleware limiting requests by client IP, or
// nil when limiting is disabled.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	formatted := strings.TrimSpace(cfg.Rate)
	if formatted == "" {
		return nil, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var store limiter.Store
	if cfg.Redis != nil {
		store, err = sredis.NewStoreWithOptions(cfg.Redis, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: limiter.DefaultCleanUpInterval})
	}

	instance := limiter.New(store, rate)
	return mgin.NewMiddleware(
		instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Fail open when the store is unreachable.
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
		}),
	), nil
}
