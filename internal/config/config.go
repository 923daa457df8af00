// Package config handles application configuration and environment loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret is the HS256 secret used when none is configured outside production.
const DevJWTSecret = "dev-secret-change-in-production"

// AuthConfig holds authentication and identity provider configuration.
type AuthConfig struct {
	// OIDC / JWKS configuration
	IssuerURL      string   // OIDC issuer URL
	JWKSURL        string   // Override JWKS URL (if no .well-known discovery)
	JWTSecret      string   // HS256 shared secret for local/dev JWT auth
	Audience       string   // Required JWT audience claim
	AllowedIssuers []string // Accepted issuers (defaults to [IssuerURL])

	// API key settings
	APIKeyEnabled bool   // Enable API key auth (default: true)
	APIKeyHeader  string // Header name for API keys (default: X-API-Key)

	// JIT provisioning
	NameClaim      string // JWT claim for principal name (default: "email")
	BootstrapAdmin string // External ID (sub) of the bootstrap admin user
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if a.IssuerURL == "" && a.JWKSURL == "" {
		return fmt.Errorf("at least one of AUTH_ISSUER_URL or AUTH_JWKS_URL must be set")
	}
	if a.IssuerURL != "" && a.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	return nil
}

// Config holds the configuration for the sandboxing API server.
type Config struct {
	MetaDBPath        string // path to SQLite metastore (policies, principals, cards)
	DuckDBPath        string // path to the DuckDB warehouse; empty means in-memory
	LoadSampleData    bool   // create the sample PRODUCTS/ORDERS/PEOPLE tables at startup
	SeedFixtures      bool   // create the sandboxing groups, user and cards at startup
	ListenAddr        string // HTTP listen address (default ":8080")
	TLSCertFile       string // TLS certificate file path (optional)
	TLSKeyFile        string // TLS private key file path (optional)
	AllowInsecureHTTP bool   // allow non-TLS listener in production (for trusted TLS termination)
	LogLevel          string // log level: debug, info, warn, error (default "info")
	Env               string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Auth holds identity provider and authentication configuration.
	Auth AuthConfig

	// Sandboxing
	PolicyCacheTTL     time.Duration // upper bound on policy staleness across instances (default 30s)
	RedisURL           string        // enables cross-instance cache invalidation when set
	SchemaSyncSchedule string        // cron spec for warehouse metadata sync (default "@every 10m")
	QueryMaxRows       int           // row cap for queries without a limit (default 2000)

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:         os.Getenv("META_DB_PATH"),
		DuckDBPath:         os.Getenv("DUCKDB_PATH"),
		LoadSampleData:     parseBoolEnvDefault("LOAD_SAMPLE_DATA", true),
		SeedFixtures:       parseBoolEnvDefault("SEED_FIXTURES", true),
		ListenAddr:         os.Getenv("LISTEN_ADDR"),
		TLSCertFile:        os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:         os.Getenv("TLS_KEY_FILE"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		Env:                os.Getenv("ENV"),
		RedisURL:           os.Getenv("REDIS_URL"),
		SchemaSyncSchedule: os.Getenv("SCHEMA_SYNC_SCHEDULE"),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	if v := os.Getenv("POLICY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("POLICY_CACHE_TTL: %w", err)
		}
		cfg.PolicyCacheTTL = d
	}
	if v := os.Getenv("QUERY_MAX_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("QUERY_MAX_ROWS must be a non-negative integer")
		}
		cfg.QueryMaxRows = n
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}
	if strings.EqualFold(os.Getenv("ALLOW_INSECURE_HTTP"), "true") {
		cfg.AllowInsecureHTTP = true
	}

	// Auth config
	cfg.Auth = AuthConfig{
		IssuerURL:      os.Getenv("AUTH_ISSUER_URL"),
		JWKSURL:        os.Getenv("AUTH_JWKS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		Audience:       os.Getenv("AUTH_AUDIENCE"),
		APIKeyEnabled:  parseBoolEnvDefault("AUTH_API_KEY_ENABLED", true),
		APIKeyHeader:   os.Getenv("AUTH_API_KEY_HEADER"),
		NameClaim:      os.Getenv("AUTH_NAME_CLAIM"),
		BootstrapAdmin: os.Getenv("AUTH_BOOTSTRAP_ADMIN"),
	}
	if v := os.Getenv("AUTH_ALLOWED_ISSUERS"); v != "" {
		cfg.Auth.AllowedIssuers = compactNonEmpty(strings.Split(v, ","))
	}

	// Auth config defaults
	if cfg.Auth.APIKeyHeader == "" {
		cfg.Auth.APIKeyHeader = "X-API-Key"
	}
	if cfg.Auth.NameClaim == "" {
		cfg.Auth.NameClaim = "email"
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.OIDCEnabled() {
		cfg.Auth.JWTSecret = DevJWTSecret
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set and OIDC not configured; using insecure development secret")
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "sandbox_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.PolicyCacheTTL == 0 {
		cfg.PolicyCacheTTL = 30 * time.Second
	}
	if cfg.SchemaSyncSchedule == "" {
		cfg.SchemaSyncSchedule = "@every 10m"
	}
	if cfg.QueryMaxRows == 0 {
		cfg.QueryMaxRows = 2000
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Auth.JWTSecret == DevJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET or AUTH_ISSUER_URL must be set in production (ENV=production)")
		}
		if cfg.Auth.OIDCEnabled() {
			if err := cfg.Auth.Validate(); err != nil {
				return nil, err
			}
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.TLSCertFile == "" && !cfg.AllowInsecureHTTP {
			return nil, fmt.Errorf("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
		}
		if cfg.SeedFixtures {
			cfg.Warnings = append(cfg.Warnings, "SEED_FIXTURES is enabled in production; the sandboxing fixture user will be created")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables
// already set win over the file, and a missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
