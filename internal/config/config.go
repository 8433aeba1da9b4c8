package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string

	TaxRateBps            int
	BillNumberPrefix      string
	BillNumberMaxAttempts int
	BillCommitMaxRetries  int
	BillNumberNodeID      int64

	CatalogCacheTTL   time.Duration
	IdempotencyTTL    time.Duration
	AnalyticsCacheTTL time.Duration
	AnalyticsRange    int

	BillRateLimitMax    int
	BillRateLimitWindow time.Duration
	APIRateLimit        string

	AuditEnabled           bool
	AuditSamplingRate      float64
	MigrateOnStart         bool
	RequestBodyLimit       int64
	SecurityHeadersEnabled bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "billswift-api"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "billswift-frontend"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TaxRateBps:            parseInt(k.String("PRICING_TAX_RATE_BPS"), 0),
		BillNumberPrefix:      valueOrDefault(k.String("BILL_NUMBER_PREFIX"), "BS"),
		BillNumberMaxAttempts: parseInt(k.String("BILL_NUMBER_MAX_ATTEMPTS"), 25),
		BillCommitMaxRetries:  parseInt(k.String("BILL_COMMIT_MAX_RETRIES"), 3),
		BillNumberNodeID:      int64(parseInt(k.String("BILL_NUMBER_NODE_ID"), 1)),

		CatalogCacheTTL:   parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		AnalyticsCacheTTL: parseDuration(k.String("ANALYTICS_CACHE_TTL"), "1m"),
		AnalyticsRange:    parseInt(k.String("ANALYTICS_DEFAULT_RANGE_DAYS"), 30),

		BillRateLimitMax:    parseInt(k.String("BILL_RATE_LIMIT_MAX"), 30),
		BillRateLimitWindow: parseDuration(k.String("BILL_RATE_LIMIT_WINDOW"), "1m"),
		APIRateLimit:        valueOrDefault(k.String("API_RATE_LIMIT"), "300-M"),

		AuditEnabled:           parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate:      parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),
		MigrateOnStart:         parseBoolDefault(k.String("MIGRATE_ON_START"), false),
		RequestBodyLimit:       int64(parseInt(k.String("REQUEST_BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TaxRateBps < 0 {
		return nil, errors.New("PRICING_TAX_RATE_BPS must not be negative")
	}
	if cfg.BillNumberMaxAttempts < 1 {
		return nil, errors.New("BILL_NUMBER_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.BillCommitMaxRetries < 1 {
		return nil, errors.New("BILL_COMMIT_MAX_RETRIES must be at least 1")
	}
	if cfg.BillNumberNodeID < 0 || cfg.BillNumberNodeID > 1023 {
		return nil, errors.New("BILL_NUMBER_NODE_ID must be between 0 and 1023")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
