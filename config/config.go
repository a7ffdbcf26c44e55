package config

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Password hashing algorithms
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// MinSecretLength is the minimum accepted length of the token signing secret in bytes
const MinSecretLength = 32

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Store         StoreConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Password      PasswordConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// StoreConfig selects the credential store backend
type StoreConfig struct {
	Driver     string // postgres or memory
	InitSchema bool
}

// RedisConfig holds the optional Redis connection used for shared
// rate-limit counters and the token deny-list. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	Issuer     string
	Revocation bool
}

// Argon2 parameter bounds accepted by Validate
const (
	MinArgon2MemoryKiB = 8 * 1024
	MaxArgon2MemoryKiB = 4 * 1024 * 1024
	MaxArgon2Time      = 64
)

// PasswordConfig holds password hashing parameters. The argon2 fields stay
// ints until Validate has range-checked them.
type PasswordConfig struct {
	Hasher            string
	BcryptCost        int
	Argon2Memory      int // KiB
	Argon2Time        int
	Argon2Parallelism int
}

// TierConfig is the quota of one rate-limit tier
type TierConfig struct {
	Window time.Duration
	Max    int
}

// RateLimitConfig holds every rate-limit tier
type RateLimitConfig struct {
	Register      TierConfig
	Login         TierConfig
	PasswordReset TierConfig
	General       TierConfig
	// CleanupInterval controls how often expired in-memory windows are evicted
	CleanupInterval time.Duration
}

// SecurityConfig holds request filtering configuration
type SecurityConfig struct {
	AdminAllowedIPs []string
	// TrustedProxies lists the addresses or CIDR ranges whose forwarding
	// headers are believed. Empty means the socket address is always used.
	TrustedProxies []string
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c *SecurityConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// AuditConfig holds the async auth-event writer configuration
type AuditConfig struct {
	Enabled     bool
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
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getPort(),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:     getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			MaxBodyBytes:       int64(getEnvAsInt("SERVER_MAX_BODY_BYTES", 10<<20)),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: loadDatabaseConfig(),
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			InitSchema: getEnvAsBool("DB_INIT_SCHEMA", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   getEnvAsDuration("JWT_EXPIRES_IN", 24*time.Hour),
			Issuer:     getEnv("JWT_ISSUER", "restaurant-identity"),
			Revocation: getEnvAsBool("JWT_REVOCATION_ENABLED", true),
		},
		Password: PasswordConfig{
			Hasher:            strings.ToLower(getEnv("PASSWORD_HASHER", HasherBcrypt)),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			Argon2Memory:      getEnvAsInt("ARGON2_MEMORY_KIB", 64*1024),
			Argon2Time:        getEnvAsInt("ARGON2_TIME", 3),
			Argon2Parallelism: getEnvAsInt("ARGON2_PARALLELISM", 2),
		},
		RateLimit: RateLimitConfig{
			Register:        loadTier("REGISTER", time.Hour, 5),
			Login:           loadTier("LOGIN", 15*time.Minute, 10),
			PasswordReset:   loadTier("PASSWORD_RESET", time.Hour, 3),
			General:         loadTier("GENERAL", 15*time.Minute, 100),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
		},
		Security: SecurityConfig{
			AdminAllowedIPs: getEnvAsList("ADMIN_ALLOWED_IPS", nil),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES", nil),
		},
		Audit: AuditConfig{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", true),
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
	case StoreDriverPostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q: expected postgres or memory", c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}

	if err := c.Password.validate(); err != nil {
		return err
	}

	if _, err := c.Security.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	tiers := map[string]TierConfig{
		"register":       c.RateLimit.Register,
		"login":          c.RateLimit.Login,
		"password_reset": c.RateLimit.PasswordReset,
		"general":        c.RateLimit.General,
	}
	for name, tier := range tiers {
		if tier.Window <= 0 {
			return fmt.Errorf("rate limit tier %s: window must be positive", name)
		}
		if tier.Max <= 0 {
			return fmt.Errorf("rate limit tier %s: max must be positive", name)
		}
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (c *PasswordConfig) validate() error {
	switch c.Hasher {
	case HasherBcrypt:
		// zero selects the hasher's default cost
		if c.BcryptCost != 0 && (c.BcryptCost < 4 || c.BcryptCost > 31) {
			return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
		}
	case HasherArgon2id:
		if c.Argon2Memory < MinArgon2MemoryKiB || c.Argon2Memory > MaxArgon2MemoryKiB {
			return fmt.Errorf("ARGON2_MEMORY_KIB must be between %d and %d", MinArgon2MemoryKiB, MaxArgon2MemoryKiB)
		}
		if c.Argon2Time < 1 || c.Argon2Time > MaxArgon2Time {
			return fmt.Errorf("ARGON2_TIME must be between 1 and %d", MaxArgon2Time)
		}
		if c.Argon2Parallelism < 1 || c.Argon2Parallelism > math.MaxUint8 {
			return fmt.Errorf("ARGON2_PARALLELISM must be between 1 and %d", math.MaxUint8)
		}
	default:
		return fmt.Errorf("unknown password hasher %q: expected bcrypt or argon2id", c.Hasher)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return pool
	}
	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "restaurant")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "restaurant")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return pool
}

// loadTier reads RATE_LIMIT_<name>_WINDOW and RATE_LIMIT_<name>_MAX
func loadTier(name string, window time.Duration, max int) TierConfig {
	return TierConfig{
		Window: getEnvAsDuration("RATE_LIMIT_"+name+"_WINDOW", window),
		Max:    getEnvAsInt("RATE_LIMIT_"+name+"_MAX", max),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 3001)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 3001
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

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
