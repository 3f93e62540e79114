package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is the immutable service configuration, loaded once at startup.
type Config struct {
	Addr     string
	LogLevel string

	SharedSecret string
	CatalogPath  string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	EigenCloudAPIKey  string
	EigenCloudBaseURL string

	RateLimitPerMinute int
	MaxConcurrency     int
	MaxRetries         int
	RetryBaseBackoff   time.Duration
	RequestTimeout     time.Duration
	ConnectTimeout     time.Duration

	RedisURL     string
	OTLPEndpoint string
	AWSRegion    string
	SecretsName  string

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		SharedSecret:       getEnv("GATEWAY_SHARED_SECRET", ""),
		CatalogPath:        getEnv("CATALOG_PATH", "models.yaml"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		EigenCloudAPIKey:   getEnv("EIGENCLOUD_API_KEY", ""),
		EigenCloudBaseURL:  getEnv("EIGENCLOUD_BASE_URL", ""),
		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 60),
		MaxConcurrency:     getIntEnv("MAX_CONCURRENCY", 10),
		MaxRetries:         getIntEnv("MAX_RETRIES", 3),
		RetryBaseBackoff:   time.Duration(getIntEnv("RETRY_BASE_BACKOFF_MS", 500)) * time.Millisecond,
		RequestTimeout:     getDurationEnv("REQUEST_TIMEOUT", 60*time.Second),
		ConnectTimeout:     getDurationEnv("CONNECT_TIMEOUT", 10*time.Second),
		RedisURL:           getEnv("REDIS_URL", ""),
		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:          getEnv("AWS_REGION", ""),
		SecretsName:        getEnv("SECRETS_NAME", ""),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// Validate checks the invariants required before serving. It runs after any
// secret-store fill-in, so a shared secret may arrive from either source.
func (c *Config) Validate() error {
	if c.SharedSecret == "" {
		return errors.New("GATEWAY_SHARED_SECRET is required")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.MaxConcurrency <= 0 {
		return errors.New("MAX_CONCURRENCY must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("MAX_RETRIES must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
