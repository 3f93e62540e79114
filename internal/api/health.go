package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthChecker probes one dependency for the readiness endpoint.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports liveness plus the configured state of each provider.
// It never probes upstream APIs; configured-state only.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]string)
	for _, tag := range h.pipeline.Providers() {
		providers[tag] = "configured"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": providers,
	})
}

// handleReady gates readiness on at least one configured provider and on any
// registered dependency checkers.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK

	if len(h.pipeline.Providers()) == 0 {
		status = "no providers configured"
		httpStatus = http.StatusServiceUnavailable
	}

	checks := runChecks(ctx, h.checkers)
	for _, result := range checks {
		if result.Status != "ok" {
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	payload := map[string]any{"status": status}
	if len(checks) > 0 {
		payload["checks"] = checks
	}
	json.NewEncoder(w).Encode(payload)
}

func runChecks(ctx context.Context, checkers []HealthChecker) map[string]checkResult {
	results := make(map[string]checkResult)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			result := checkResult{Status: "ok"}
			if err := c.Check(ctx); err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}

			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

// RedisHealthChecker probes the rate limiter's Redis backend.
type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string {
	return "redis"
}

func (c *RedisHealthChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
