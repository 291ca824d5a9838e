package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Security  SecurityConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port                    string
	Env                     string
	LogLevel                string
	AllowedOrigins          []string
	TrustedProxies          []string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	LoginRateLimitPerMinute int
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// SecurityConfig carries the lockout and session policy
type SecurityConfig struct {
	LockoutThreshold int
	LockoutLadder    []time.Duration
	LedgerCapacity   int
	SessionMaxAge    time.Duration
	DuplicateWindow  time.Duration
	InvalidationTTL  time.Duration
	StaleFailureTTL  time.Duration // 0 disables stale-cycle pruning
	SweepSchedule    string
	EventQueueSize   int
	EventRetention   time.Duration // 0 keeps security events forever
}

type NotifyConfig struct {
	EmailEnabled bool
	AWSRegion    string
	FromAddress  string
	Recipients   []string
}

type MetricsConfig struct {
	Enabled bool
	Token   string
}

// BootstrapConfig seeds the first administrator on an empty staff table
type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
}

const defaultLockoutLadder = "1m,2m,10m,30m,60m"

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	ladder, err := ParseLadder(getEnv("LOCKOUT_LADDER", defaultLockoutLadder))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:                    getEnv("PORT", "8080"),
			Env:                     env,
			LogLevel:                getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:          parseAllowedOrigins(env),
			TrustedProxies:          getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:             getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:            getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:             getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			LoginRateLimitPerMinute: getEnvAsInt("LOGIN_RATE_LIMIT_PER_MINUTE", 20),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 8*time.Hour),
			Issuer:            getEnv("JWT_ISSUER", "warden"),
		},
		Security: SecurityConfig{
			LockoutThreshold: getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutLadder:    ladder,
			LedgerCapacity:   getEnvAsInt("ATTEMPT_LEDGER_CAPACITY", 100000),
			SessionMaxAge:    getEnvAsDuration("SESSION_MAX_AGE", 8*time.Hour),
			DuplicateWindow:  getEnvAsDuration("SESSION_DUPLICATE_WINDOW", 3*time.Second),
			InvalidationTTL:  getEnvAsDuration("SESSION_INVALIDATION_TTL", 30*time.Second),
			StaleFailureTTL:  getEnvAsDuration("STALE_FAILURE_TTL", 0),
			SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 1m"),
			EventQueueSize:   getEnvAsInt("EVENT_QUEUE_SIZE", 1024),
			EventRetention:   getEnvAsDuration("SECURITY_EVENT_RETENTION", 0),
		},
		Notify: NotifyConfig{
			EmailEnabled: getEnvAsBool("NOTIFY_EMAIL_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("NOTIFY_FROM_ADDRESS", ""),
			Recipients:   getEnvAsList("NOTIFY_RECIPIENTS"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", false),
			Token:   getEnv("METRICS_TOKEN", ""),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: getEnv("BOOTSTRAP_ADMIN_USERNAME", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	if cfg.Notify.EmailEnabled && (cfg.Notify.FromAddress == "" || len(cfg.Notify.Recipients) == 0) {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS and NOTIFY_RECIPIENTS are required when NOTIFY_EMAIL_ENABLED is set")
	}

	if cfg.Metrics.Enabled && env == "production" && cfg.Metrics.Token == "" {
		return nil, fmt.Errorf("METRICS_TOKEN is required to expose metrics in production")
	}

	return cfg, nil
}

func (c *SecurityConfig) validate() error {
	if c.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", c.LockoutThreshold)
	}
	if c.LedgerCapacity < 1 {
		return fmt.Errorf("ATTEMPT_LEDGER_CAPACITY must be positive (got %d)", c.LedgerCapacity)
	}
	if c.SessionMaxAge <= 0 || c.InvalidationTTL <= 0 || c.DuplicateWindow < 0 {
		return fmt.Errorf("session timings must be positive")
	}
	if c.EventQueueSize < 1 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive (got %d)", c.EventQueueSize)
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}
	return nil
}

// ParseLadder parses a comma-separated list of block durations ("1m,2m,10m").
// The rung after the last entry is always permanent.
func ParseLadder(value string) ([]time.Duration, error) {
	parts := strings.Split(value, ",")
	ladder := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCKOUT_LADDER entry %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid LOCKOUT_LADDER entry %q: must be positive", part)
		}
		ladder = append(ladder, d)
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("LOCKOUT_LADDER must contain at least one duration")
	}
	return ladder, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := getEnvAsList("ALLOWED_ORIGINS")
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
