package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iahome/backend/internal/accounts"
	"github.com/iahome/backend/internal/activation"
	"github.com/iahome/backend/internal/auth"
	"github.com/iahome/backend/internal/config"
	"github.com/iahome/backend/internal/database"
	"github.com/iahome/backend/internal/logging"
	"github.com/iahome/backend/internal/observability"
	"github.com/iahome/backend/internal/profiles"
	"github.com/iahome/backend/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const serviceName = "iahome-api"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "iahome-api",
		Short: "IAHome account and module activation backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("auth-jwt-secret", "", "Auth provider JWT secret; enables session checks")
	cmd.PersistentFlags().String("access-token-secret", "", "Module access token signing secret (overrides env)")
	cmd.PersistentFlags().String("rate-limit", defaults.GetString("ratelimit.rate"), "Per-client rate (e.g. 60-M); empty disables")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for shared rate limiting")
	cmd.PersistentFlags().Bool("metrics", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	cmd.PersistentFlags().Bool("tracing", defaults.GetBool("tracing.enabled"), "Enable OpenTelemetry tracing")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.jwt_secret", "auth-jwt-secret")
	bindFlag(cmd, "access_token.secret", "access-token-secret")
	bindFlag(cmd, "ratelimit.rate", "rate-limit")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "metrics.enabled", "metrics")
	bindFlag(cmd, "tracing.enabled", "tracing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	shutdownTracing, err := observability.InitTracing(ctx, logger, observability.TracingConfig{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: serviceName,
		Endpoint:    appConfig.TracingEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := accounts.NewGormStore(accounts.GormStoreConfig{
		Database: db,
		Timeout:  appConfig.DatabaseTimeout,
	})
	if err != nil {
		return err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Store:          store,
		Logger:         logger,
		WelcomeTokens:  appConfig.WelcomeTokens,
		WelcomePackage: appConfig.WelcomePackage,
	})
	if err != nil {
		return err
	}

	accessTokens, err := auth.NewAccessTokenIssuer(auth.AccessTokenIssuerConfig{
		SigningSecret: []byte(appConfig.AccessTokenSecret),
		Issuer:        appConfig.AccessTokenIssuer,
		TokenTTL:      appConfig.AccessTokenTTL,
	})
	if err != nil {
		return err
	}

	activationService, err := activation.NewService(activation.ServiceConfig{
		Store:       store,
		Issuer:      accessTokens,
		DefaultCost: appConfig.ActivationCost,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var sessions server.SessionValidator
	if appConfig.AuthJWTSecret != "" {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.AuthJWTSecret),
			Issuer:        appConfig.AuthIssuer,
		})
		if err != nil {
			return err
		}
		sessions = validator
	} else {
		logger.Warn("auth.jwt_secret not set; API routes accept unauthenticated requests")
	}

	var redisClient *redis.Client
	if appConfig.RedisAddress != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
		})
		defer redisClient.Close()
	}
	rateLimitConfig := server.RateLimitConfig{Rate: appConfig.RateLimit, Logger: logger}
	if redisClient != nil {
		rateLimitConfig.Redis = redisClient
	}
	rateLimiter, err := server.NewRateLimiter(rateLimitConfig)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if appConfig.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Reconciler:     profileService,
		Activator:      activationService,
		Sessions:       sessions,
		Health:         store,
		Metrics:        metrics,
		RateLimiter:    rateLimiter,
		AllowedOrigins: appConfig.AllowedOrigins,
		TracingEnabled: appConfig.TracingEnabled,
		ServiceName:    serviceName,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
