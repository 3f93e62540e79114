package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mpontes/llm-gateway/internal/api"
	"github.com/mpontes/llm-gateway/internal/auth"
	"github.com/mpontes/llm-gateway/internal/catalog"
	"github.com/mpontes/llm-gateway/internal/config"
	"github.com/mpontes/llm-gateway/internal/gate"
	"github.com/mpontes/llm-gateway/internal/httputil"
	"github.com/mpontes/llm-gateway/internal/pipeline"
	"github.com/mpontes/llm-gateway/internal/provider"
	"github.com/mpontes/llm-gateway/internal/provider/eigencloud"
	"github.com/mpontes/llm-gateway/internal/provider/openai"
	"github.com/mpontes/llm-gateway/internal/provider/openrouter"
	"github.com/mpontes/llm-gateway/internal/ratelimit"
	"github.com/mpontes/llm-gateway/internal/retry"
	"github.com/mpontes/llm-gateway/internal/secrets"
	"github.com/mpontes/llm-gateway/internal/telemetry"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SecretsName != "" {
		if err := loadSecrets(ctx, cfg); err != nil {
			slog.Error("failed to load secrets", "error", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting llm-gateway", "addr", cfg.Addr, "version", "0.1.0")

	shutdownTelemetry, err := telemetry.Init(ctx, "llm-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load model catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	slog.Info("model catalog loaded", "path", cfg.CatalogPath, "models", len(cat.Entries()))

	var limiter ratelimit.Limiter
	var checkers []api.HealthChecker
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitPerMinute)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		checkers = append(checkers, api.NewRedisHealthChecker(redisLimiter.Client()))
		slog.Info("using redis rate limiter", "limit_per_minute", cfg.RateLimitPerMinute)
	} else {
		memLimiter := ratelimit.NewInMemoryLimiter(cfg.RateLimitPerMinute)
		memLimiter.StartSweeper(ctx, ratelimit.Window)
		limiter = memLimiter
		slog.Info("using in-memory rate limiter", "limit_per_minute", cfg.RateLimitPerMinute)
	}

	upstreamClient := httputil.NewClient(httputil.ClientConfig{
		Timeout:             cfg.RequestTimeout,
		DialTimeout:         cfg.ConnectTimeout,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	})

	adapters := make(map[string]provider.Adapter)
	if cfg.OpenAIAPIKey != "" {
		adapters["openai"] = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, upstreamClient)
		slog.Info("registered provider", "provider", "openai")
	}
	if cfg.OpenRouterAPIKey != "" {
		adapters["openrouter"] = openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, upstreamClient)
		slog.Info("registered provider", "provider", "openrouter")
	}
	if cfg.EigenCloudAPIKey != "" && cfg.EigenCloudBaseURL != "" {
		adapters["eigencloud"] = eigencloud.New(cfg.EigenCloudAPIKey, cfg.EigenCloudBaseURL, upstreamClient)
		slog.Info("registered provider", "provider", "eigencloud")
	}
	if len(adapters) == 0 {
		slog.Warn("no providers configured, /ready will report unavailable")
	}

	pipe := pipeline.New(pipeline.Config{
		Limiter:  limiter,
		Gate:     gate.New(cfg.MaxConcurrency),
		Catalog:  cat,
		Adapters: adapters,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseBackoff: cfg.RetryBaseBackoff,
		},
	})

	handler := api.NewHandler(api.HandlerConfig{
		Verifier: auth.NewVerifier(cfg.SharedSecret),
		Pipeline: pipe,
		Catalog:  cat,
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// loadSecrets fills unset credentials from AWS Secrets Manager. Environment
// variables take precedence.
func loadSecrets(ctx context.Context, cfg *config.Config) error {
	store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	creds, err := store.GetCredentials(ctx, cfg.SecretsName)
	if err != nil {
		return err
	}

	if cfg.SharedSecret == "" {
		cfg.SharedSecret = creds.SharedSecret
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = creds.OpenAIAPIKey
	}
	if cfg.OpenRouterAPIKey == "" {
		cfg.OpenRouterAPIKey = creds.OpenRouterAPIKey
	}
	if cfg.EigenCloudAPIKey == "" {
		cfg.EigenCloudAPIKey = creds.EigenCloudAPIKey
	}

	slog.Info("credentials loaded from secrets manager", "secret", cfg.SecretsName)
	return nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
