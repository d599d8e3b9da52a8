// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Persistence (all optional; in-memory backends are used when unset)
	DatabaseURL   string // PostgreSQL, user accounts
	MongoURI      string // tenant data, usage records, invoices
	MongoDatabase string
	RedisURL      string // daily API-call counters

	// Event fan-out
	NATSURL string

	// Sessions
	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	RefreshTTL time.Duration

	// Tenancy
	AllowQueryTenant bool   // trust ?tenant_id= (development only)
	ConfigDir        string // YAML seed documents, one subdirectory per registry

	// Background sweeps
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	AvailabilityInterval time.Duration
	TenantSweepInterval  time.Duration
	BillingSweepInterval time.Duration

	// Billing
	StripeSecretKey string

	// HTTP
	CORSOrigins []string

	// Tracing
	OTLPEndpoint string

	AdminSecret string
}

// Defaults
const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultMongoDatabase        = "agentplatform"
	DefaultJWTIssuer            = "agentplatform"
	DefaultTokenTTL             = 24 * time.Hour
	DefaultRefreshTTL           = 7 * 24 * time.Hour
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 5 * time.Minute
	DefaultAvailabilityInterval = 5 * time.Minute
	DefaultTenantSweepInterval  = time.Minute
	DefaultBillingSweepInterval = time.Hour

	// devJWTSecret is only accepted outside production.
	devJWTSecret = "dev-secret-change-me"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDatabase:        getEnv("MONGO_DATABASE", DefaultMongoDatabase),
		RedisURL:             os.Getenv("REDIS_URL"),
		NATSURL:              os.Getenv("NATS_URL"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTIssuer:            getEnv("JWT_ISSUER", DefaultJWTIssuer),
		TokenTTL:             getEnvDuration("JWT_TTL", DefaultTokenTTL),
		RefreshTTL:           getEnvDuration("REFRESH_TTL", DefaultRefreshTTL),
		AllowQueryTenant:     getEnvBool("ALLOW_QUERY_TENANT", false),
		ConfigDir:            os.Getenv("CONFIG_DIR"),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		HeartbeatTimeout:     getEnvDuration("HEARTBEAT_TIMEOUT", DefaultHeartbeatTimeout),
		AvailabilityInterval: getEnvDuration("AVAILABILITY_INTERVAL", DefaultAvailabilityInterval),
		TenantSweepInterval:  getEnvDuration("TENANT_SWEEP_INTERVAL", DefaultTenantSweepInterval),
		BillingSweepInterval: getEnvDuration("BILLING_SWEEP_INTERVAL", DefaultBillingSweepInterval),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		CORSOrigins:          getEnvList("CORS_ORIGINS"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() {
		if c.JWTSecret == devJWTSecret || len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.AllowQueryTenant {
			return fmt.Errorf("ALLOW_QUERY_TENANT must not be enabled in production")
		}
	}
	if c.TokenTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("JWT_TTL and REFRESH_TTL must be positive")
	}
	if c.HeartbeatInterval <= 0 || c.AvailabilityInterval <= 0 || c.TenantSweepInterval <= 0 || c.BillingSweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
