package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // store timezones must load on hosts without a zoneinfo database

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Log       LogConfig       `json:"log"`
	Ledger    LedgerConfig    `json:"ledger"`
	Catalog   CatalogConfig   `json:"catalog"`
	Tracing   TracingConfig   `json:"tracing"`
	Features  FeaturesConfig  `json:"features"`
	Store     StoreConfig     `json:"store"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port"`
	Host      string `json:"host"`
	EnableTLS bool   `json:"enable_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Env   string `json:"env"`
	Level string `json:"level"`
}

// LedgerConfig selects and tunes the usage ledger store.
type LedgerConfig struct {
	// Backend is one of sqlite, memory, redis or postgres.
	Backend       string `json:"backend"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	PostgresDSN   string `json:"postgres_dsn"`
	MaxAttempts   int    `json:"max_attempts"`
	TimeoutMS     int    `json:"timeout_ms"`
}

// Timeout returns the per-commit timeout.
func (c LedgerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CatalogConfig holds catalog loading configuration.
type CatalogConfig struct {
	MaxSize int `json:"max_size"`
	// Cache is memory or redis. Redis reuses the ledger's Redis settings.
	Cache      string `json:"cache"`
	CacheTTLMS int    `json:"cache_ttl_ms"`
	SeedFile   string `json:"seed_file"`
}

// CacheTTL returns the catalog cache entry lifetime.
func (c CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FeaturesConfig holds the default state of feature flags.
type FeaturesConfig struct {
	CacheEnabled   bool `json:"cache_enabled"`
	EventHooks     bool `json:"event_hooks"`
	LedgerPrecheck bool `json:"ledger_precheck"`
}

// StoreConfig describes the shop the promotions run in.
type StoreConfig struct {
	// Timezone is an IANA name; schedules are read in it.
	Timezone string `json:"timezone"`
}

// Location loads the store timezone.
func (c StoreConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid store timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Path: "./promotion_engine.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Log: LogConfig{Env: "development", Level: "info"},
		Ledger: LedgerConfig{
			Backend:     "sqlite",
			RedisAddr:   "localhost:6379",
			MaxAttempts: 3,
			TimeoutMS:   2000,
		},
		Catalog: CatalogConfig{
			MaxSize:    1000,
			Cache:      "memory",
			CacheTTLMS: 30000,
		},
		Tracing: TracingConfig{
			Endpoint: "http://localhost:14268/api/traces",
		},
		Features: FeaturesConfig{
			CacheEnabled:   true,
			EventHooks:     true,
			LedgerPrecheck: true,
		},
		Store: StoreConfig{Timezone: "UTC"},
	}
}

// LoadConfig loads configuration from defaults, an optional JSON file and
// environment variables, in increasing order of precedence. A .env file in
// the working directory is loaded into the environment first if present.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.EnableTLS = getEnvBool("SERVER_ENABLE_TLS", cfg.Server.EnableTLS)
	cfg.Server.CertFile = getEnv("SERVER_CERT_FILE", cfg.Server.CertFile)
	cfg.Server.KeyFile = getEnv("SERVER_KEY_FILE", cfg.Server.KeyFile)

	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)

	cfg.Security.MaxRequestBodySize = getEnvInt64("MAX_REQUEST_BODY_SIZE", cfg.Security.MaxRequestBodySize)
	cfg.Security.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.Security.AllowedOrigins)

	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Rate = getEnvInt("RATE_LIMIT_RATE", cfg.RateLimit.Rate)
	cfg.RateLimit.Window = getEnvInt("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.Log.Env = getEnv("APP_ENV", cfg.Log.Env)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Ledger.Backend = getEnv("LEDGER_BACKEND", cfg.Ledger.Backend)
	cfg.Ledger.RedisAddr = getEnv("REDIS_ADDR", cfg.Ledger.RedisAddr)
	cfg.Ledger.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Ledger.RedisPassword)
	cfg.Ledger.RedisDB = getEnvInt("REDIS_DB", cfg.Ledger.RedisDB)
	cfg.Ledger.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Ledger.PostgresDSN)
	cfg.Ledger.MaxAttempts = getEnvInt("LEDGER_MAX_ATTEMPTS", cfg.Ledger.MaxAttempts)
	cfg.Ledger.TimeoutMS = getEnvInt("LEDGER_TIMEOUT_MS", cfg.Ledger.TimeoutMS)

	cfg.Catalog.MaxSize = getEnvInt("CATALOG_MAX_SIZE", cfg.Catalog.MaxSize)
	cfg.Catalog.Cache = getEnv("CATALOG_CACHE", cfg.Catalog.Cache)
	cfg.Catalog.CacheTTLMS = getEnvInt("CATALOG_CACHE_TTL_MS", cfg.Catalog.CacheTTLMS)
	cfg.Catalog.SeedFile = getEnv("CATALOG_SEED_FILE", cfg.Catalog.SeedFile)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.Features.CacheEnabled = getEnvBool("FEATURE_CACHE_ENABLED", cfg.Features.CacheEnabled)
	cfg.Features.EventHooks = getEnvBool("FEATURE_EVENT_HOOKS", cfg.Features.EventHooks)
	cfg.Features.LedgerPrecheck = getEnvBool("FEATURE_LEDGER_PRECHECK", cfg.Features.LedgerPrecheck)

	cfg.Store.Timezone = getEnv("STORE_TIMEZONE", cfg.Store.Timezone)
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("cert file and key file are required when TLS is enabled")
	}
	if c.Security.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	switch c.Ledger.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis ledger")
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("ledger max attempts must be positive")
	}
	if c.Ledger.TimeoutMS <= 0 {
		return fmt.Errorf("ledger timeout must be positive")
	}
	if c.Catalog.MaxSize <= 0 {
		return fmt.Errorf("catalog max size must be positive")
	}
	switch c.Catalog.Cache {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown catalog cache %q", c.Catalog.Cache)
	}
	if _, err := c.Store.Location(); err != nil {
		return err
	}
	return nil
}
