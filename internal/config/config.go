// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Records  RecordsConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 45s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"45s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 40s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"40s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate creates missing tables on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// RecordsConfig holds record lifecycle settings.
type RecordsConfig struct {
	// OperationTimeout bounds the storage work of one operation (default: 30s)
	OperationTimeout time.Duration `env:"RECORD_OPERATION_TIMEOUT" default:"30s"`

	// NumericPolicy handles out-of-range numbers: clamp or reject (default: clamp)
	NumericPolicy string `env:"RECORD_NUMERIC_POLICY" default:"clamp"`

	// UpdateMode is replace (omitted fields reset) or patch (omitted fields kept)
	UpdateMode string `env:"RECORD_UPDATE_MODE" default:"replace"`

	// FallbackCategories overrides which categories synthesize a default
	// entry on an unknown name. Unset keeps the built-in policy.
	FallbackCategories []string `env:"REFERENCE_FALLBACK_CATEGORIES"`

	// RequiredCategories overrides which categories can never be null.
	RequiredCategories []string `env:"REFERENCE_REQUIRED_CATEGORIES"`

	// SeedDefaults inserts the default entry of empty dictionaries on startup (default: true)
	SeedDefaults bool `env:"REFERENCE_SEED_DEFAULTS" default:"true"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the number of requests allowed above the steady rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// RequireActor rejects mutations without an X-Actor-Id header (default: false)
	RequireActor bool `env:"REQUIRE_ACTOR" default:"false"`

	// EnableAdminAPI exposes the database reconfiguration endpoint (default: false)
	EnableAdminAPI bool `env:"ENABLE_ADMIN_API" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	// Enabled writes an audit entry for every committed mutation (default: true)
	Enabled bool `env:"AUDIT_ENABLED" default:"true"`

	// RetentionDays is days to keep audit entries (default: 365)
	RetentionDays int `env:"AUDIT_RETENTION_DAYS" default:"365"`

	// BatchSize is rows to delete per retention batch (default: 5000)
	BatchSize int `env:"AUDIT_RETENTION_BATCH_SIZE" default:"5000"`

	// CheckInterval is how often to run the retention job (default: 24h)
	CheckInterval time.Duration `env:"AUDIT_RETENTION_INTERVAL" default:"24h"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics on /metrics (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// TraceExporter selects the span exporter: none, stdout or otlp (default: none)
	TraceExporter string `env:"OTEL_TRACES_EXPORTER" default:"none"`

	// OTLPEndpoint is the OTLP gRPC receiver for traces (default: localhost:4317)
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// CategoryPolicies returns the category policy overrides. A nil list keeps
// the built-in policy; the single value "none" yields an empty list, which
// clears the flag on every category.
func (c *RecordsConfig) CategoryPolicies() (fallback, required []string) {
	return policyList(c.FallbackCategories), policyList(c.RequiredCategories)
}

func policyList(v []string) []string {
	if len(v) == 1 && strings.EqualFold(v[0], "none") {
		return []string{}
	}
	return v
}
