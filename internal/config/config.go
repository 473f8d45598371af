package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Stripe    StripeConfig
	Bkash     BkashConfig
	Redis     RedisConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
}

// LoggerConfig holds logger-related configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	APIKey string
}

// StripeConfig holds credentials for the Stripe payment provider. A provider
// with no secret key is simply absent from the registry.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Configured reports whether the Stripe provider should be registered.
func (c *StripeConfig) Configured() bool {
	return c.SecretKey != ""
}

// BkashConfig holds credentials for the bKash payment provider.
type BkashConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Username  string
	Password  string
	Timeout   time.Duration
	TokenTTL  time.Duration
}

// Configured reports whether the bKash provider should be registered.
func (c *BkashConfig) Configured() bool {
	return c.AppKey != ""
}

// RedisConfig holds the optional redis backing for the provider token cache.
// When disabled an in-process cache is used instead.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ReconcileConfig holds the background reconciliation poller settings for
// providers without webhook support.
type ReconcileConfig struct {
	Enabled   bool
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "commerce"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
			MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
			Timeout:       getEnvAsDuration("STRIPE_TIMEOUT", 15*time.Second),
		},
		Bkash: BkashConfig{
			BaseURL:   getEnv("BKASH_BASE_URL", "https://tokenized.sandbox.bka.sh/v1.2.0-beta"),
			AppKey:    getEnv("BKASH_APP_KEY", ""),
			AppSecret: getEnv("BKASH_APP_SECRET", ""),
			Username:  getEnv("BKASH_USERNAME", ""),
			Password:  getEnv("BKASH_PASSWORD", ""),
			Timeout:   getEnvAsDuration("BKASH_TIMEOUT", 15*time.Second),
			TokenTTL:  getEnvAsDuration("BKASH_TOKEN_TTL", 55*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Reconcile: ReconcileConfig{
			Enabled:   getEnvAsBool("RECONCILE_ENABLED", true),
			Interval:  getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			MinAge:    getEnvAsDuration("RECONCILE_MIN_AGE", 5*time.Minute),
			BatchSize: getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabase loads only the database configuration from environment
// variables. Auxiliary commands that never serve HTTP use it instead of Load
// so they do not demand an API key or provider credentials.
func LoadDatabase() (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "commerce"),
		MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 5),
		MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 1),
		MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
	}

	if cfg.Host == "" {
		return DatabaseConfig{}, fmt.Errorf("database host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return DatabaseConfig{}, fmt.Errorf("invalid database port: %d", cfg.Port)
	}
	if cfg.User == "" {
		return DatabaseConfig{}, fmt.Errorf("database user is required")
	}
	if cfg.Database == "" {
		return DatabaseConfig{}, fmt.Errorf("database name is required")
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Database.MinConnections < 1 {
		return fmt.Errorf("database min connections must be at least 1")
	}

	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logger.Format)
	}

	if c.Stripe.Configured() && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required when stripe is configured")
	}

	if c.Bkash.Configured() {
		if c.Bkash.AppSecret == "" {
			return fmt.Errorf("bkash app secret is required when bkash is configured")
		}
		if c.Bkash.Username == "" || c.Bkash.Password == "" {
			return fmt.Errorf("bkash credentials are required when bkash is configured")
		}
		if c.Bkash.TokenTTL <= 0 {
			return fmt.Errorf("bkash token TTL must be positive")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.Interval <= 0 {
			return fmt.Errorf("reconcile interval must be positive")
		}
		if c.Reconcile.BatchSize < 1 {
			return fmt.Errorf("reconcile batch size must be at least 1")
		}
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
