package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Identity      IdentityConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StoreConfig holds principal store configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type StoreConfig struct {
	Driver           string
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	SQLitePath       string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	// Retry policy applied to every store round trip
	RetryAttempts    int
	RetryInitial     time.Duration
	RetryMax         time.Duration
	OperationTimeout time.Duration
}

// IdentityConfig holds sign-in configuration
type IdentityConfig struct {
	IssuerURL    string // OpenID Connect issuer, e.g. https://accounts.google.com
	ClientID     string
	ClientSecret string
	RedirectURI  string // OAuth2 callback URL
	FrontEndURL  string // Post-login redirect target
	Scopes       []string
	DevSecret    string // HS256 secret for local tokens; rejected in production
	CookieSecure bool
}

// OIDCEnabled reports whether an external identity provider is configured
func (c *IdentityConfig) OIDCEnabled() bool {
	return c.IssuerURL != "" && c.ClientID != ""
}

// CacheConfig controls the principal snapshot cache
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// RateLimitConfig throttles the admin API per actor
type RateLimitConfig struct {
	AdminRPS   float64
	AdminBurst int
}

// AuditConfig sizes the async audit writer
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Store: loadStoreConfig(),
		Identity: IdentityConfig{
			IssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
			ClientID:     getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("OIDC_REDIRECT_URI", "http://localhost:8080/auth/callback"),
			FrontEndURL:  getEnv("FRONT_END_URL", "http://localhost:5173"),
			Scopes:       getEnvAsList("OIDC_SCOPES", []string{"openid", "profile", "email"}),
			DevSecret:    getEnv("DEV_TOKEN_SECRET", ""),
			CookieSecure: getEnvAsBool("COOKIE_SECURE", false),
		},
		Cache: CacheConfig{
			TTL:        getEnvAsDuration("PRINCIPAL_CACHE_TTL", 30*time.Second),
			MaxEntries: getEnvAsInt("PRINCIPAL_CACHE_MAX_ENTRIES", 1000),
		},
		RateLimit: RateLimitConfig{
			AdminRPS:   getEnvAsFloat("ADMIN_RATE_LIMIT_RPS", 5),
			AdminBurst: getEnvAsInt("ADMIN_RATE_LIMIT_BURST", 10),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKER_COUNT", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.ConnectionString == "" && c.Store.Host == "" {
			return fmt.Errorf("postgres store requires DATABASE_URL or DB_HOST")
		}
		if c.Store.ConnectionString == "" {
			if c.Store.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Store.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite store requires SQLITE_PATH")
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Store.RetryAttempts < 1 {
		return fmt.Errorf("store retry attempts must be at least 1")
	}
	if c.Store.RetryInitial <= 0 || c.Store.RetryMax < c.Store.RetryInitial {
		return fmt.Errorf("store retry backoff must satisfy 0 < initial <= max")
	}
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store operation timeout must be positive")
	}

	// Identity validation
	if c.IsProduction() {
		if !c.Identity.OIDCEnabled() {
			return fmt.Errorf("OIDC issuer and client ID are required in production")
		}
		if c.Identity.DevSecret != "" {
			return fmt.Errorf("DEV_TOKEN_SECRET must not be set in production")
		}
	}
	if !c.Identity.OIDCEnabled() && c.Identity.DevSecret == "" {
		return fmt.Errorf("either OIDC settings or DEV_TOKEN_SECRET must be configured")
	}

	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("principal cache must hold at least one entry")
	}
	if c.RateLimit.AdminRPS <= 0 || c.RateLimit.AdminBurst < 1 {
		return fmt.Errorf("admin rate limit must be positive")
	}
	if c.Audit.BufferSize < 1 || c.Audit.WorkerCount < 1 {
		return fmt.Errorf("audit buffer size and worker count must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *StoreConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *StoreConfig) LogString() string {
	switch c.Driver {
	case DriverSQLite:
		return "sqlite=" + c.SQLitePath
	case DriverMemory:
		return "memory"
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadStoreConfig() StoreConfig {
	cfg := StoreConfig{
		Driver:           strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:       getEnv("SQLITE_PATH", "portal.db"),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		RetryAttempts:    getEnvAsInt("STORE_RETRY_ATTEMPTS", 3),
		RetryInitial:     getEnvAsDuration("STORE_RETRY_INITIAL", 100*time.Millisecond),
		RetryMax:         getEnvAsDuration("STORE_RETRY_MAX", 2*time.Second),
		OperationTimeout: getEnvAsDuration("STORE_OPERATION_TIMEOUT", 5*time.Second),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "portal")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "portal")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
