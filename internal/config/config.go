package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "IAHOME"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabasePath      = "iahome.db"
	defaultDatabaseTimeout   = 10 * time.Second
	defaultLogLevel          = "info"
	defaultWelcomeAmount     = 400
	defaultWelcomePackage    = "Welcome Package"
	defaultActivationCost    = 10
	defaultAccessTokenTTL    = time.Hour
	defaultAccessTokenIssuer = "iahome"
	defaultRateLimit         = "60-M"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	DatabaseTimeout time.Duration

	LogLevel string

	AuthJWTSecret string
	AuthIssuer    string

	WelcomeTokens  int64
	WelcomePackage string

	ActivationCost int64

	AccessTokenSecret string
	AccessTokenTTL    time.Duration
	AccessTokenIssuer string

	RateLimit     string
	RedisAddress  string
	RedisPassword string

	MetricsEnabled  bool
	TracingEnabled  bool
	TracingEndpoint string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("database.timeout", defaultDatabaseTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.jwt_secret", "")
	configViper.SetDefault("auth.issuer", "")
	configViper.SetDefault("tokens.welcome_amount", defaultWelcomeAmount)
	configViper.SetDefault("tokens.welcome_package", defaultWelcomePackage)
	configViper.SetDefault("activation.default_cost", defaultActivationCost)
	configViper.SetDefault("access_token.secret", "")
	configViper.SetDefault("access_token.ttl", defaultAccessTokenTTL)
	configViper.SetDefault("access_token.issuer", defaultAccessTokenIssuer)
	configViper.SetDefault("ratelimit.rate", defaultRateLimit)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("metrics.enabled", false)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.endpoint", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		DatabaseTimeout:   configViper.GetDuration("database.timeout"),
		LogLevel:          configViper.GetString("log.level"),
		AuthJWTSecret:     configViper.GetString("auth.jwt_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		WelcomeTokens:     configViper.GetInt64("tokens.welcome_amount"),
		WelcomePackage:    configViper.GetString("tokens.welcome_package"),
		ActivationCost:    configViper.GetInt64("activation.default_cost"),
		AccessTokenSecret: configViper.GetString("access_token.secret"),
		AccessTokenTTL:    configViper.GetDuration("access_token.ttl"),
		AccessTokenIssuer: configViper.GetString("access_token.issuer"),
		RateLimit:         strings.TrimSpace(configViper.GetString("ratelimit.rate")),
		RedisAddress:      strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:     configViper.GetString("redis.password"),
		MetricsEnabled:    configViper.GetBool("metrics.enabled"),
		TracingEnabled:    configViper.GetBool("tracing.enabled"),
		TracingEndpoint:   strings.TrimSpace(configViper.GetString("tracing.endpoint")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database.timeout must be positive")
	}
	if c.WelcomeTokens <= 0 {
		return fmt.Errorf("tokens.welcome_amount must be positive")
	}
	if c.ActivationCost <= 0 {
		return fmt.Errorf("activation.default_cost must be positive")
	}
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		return fmt.Errorf("access_token.secret is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("access_token.ttl must be positive")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated env value.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
