package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Secrets  SecretsConfig
	Sweep    SweepConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	CronSecret  string
	AdminSecret string

	// Webhook rate limiting (per source IP)
	WebhookRateLimit float64
	WebhookRateBurst int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// GatewayConfig holds Mercado Pago gateway configuration
type GatewayConfig struct {
	BaseURL string
	// AccessToken is used directly when set; otherwise it is resolved via
	// the secret manager at AccessTokenPath.
	AccessToken     string
	AccessTokenPath string
	Timeout         int // Request timeout in seconds (default: 30)
}

// SecretsConfig selects the secret manager backend
type SecretsConfig struct {
	// Backend: "aws", "vault", or "local"
	Backend string

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress string
	VaultToken   string

	LocalPath string
}

// SweepConfig holds the billing sweep configuration
type SweepConfig struct {
	Interval       time.Duration
	BatchSize      int
	Concurrency    int
	AttemptTimeout time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:             getEnvAsInt("SERVER_PORT", 8080),
			Host:             getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:      getEnvAsInt("METRICS_PORT", 9090),
			CronSecret:       getEnv("CRON_SECRET", ""),
			AdminSecret:      getEnv("ADMIN_SECRET", ""),
			WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 10),
			WebhookRateBurst: getEnvAsInt("WEBHOOK_RATE_BURST", 20),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "billing_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Gateway: GatewayConfig{
			BaseURL:         getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:     getEnv("MP_ACCESS_TOKEN", ""),
			AccessTokenPath: getEnv("MP_ACCESS_TOKEN_PATH", "billing-service/gateway/access-token"),
			Timeout:         getEnvAsInt("MP_TIMEOUT", 30),
		},
		Secrets: SecretsConfig{
			Backend:      getEnv("SECRETS_BACKEND", "local"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:   getEnv("AWS_PROFILE", ""),
			AWSEndpoint:  getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress: getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			LocalPath:    getEnv("SECRETS_LOCAL_PATH", ".secrets"),
		},
		Sweep: SweepConfig{
			Interval:       getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
			BatchSize:      getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			Concurrency:    getEnvAsInt("SWEEP_CONCURRENCY", 4),
			AttemptTimeout: getEnvAsDuration("SWEEP_ATTEMPT_TIMEOUT", 30*time.Second),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Server.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}
	if cfg.Server.AdminSecret == "" {
		return nil, fmt.Errorf("ADMIN_SECRET is required")
	}
	if cfg.Sweep.BatchSize < 1 || cfg.Sweep.BatchSize > 1000 {
		return nil, fmt.Errorf("SWEEP_BATCH_SIZE must be between 1 and 1000")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

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
