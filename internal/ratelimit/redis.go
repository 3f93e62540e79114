package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements fixed-window rate limiting backed by Redis, for
// deployments running more than one gateway instance. It keeps the same
// deny-does-not-count semantics as the in-memory limiter: the counter is only
// incremented after the limit check passes.
type RedisLimiter struct {
	client *redis.Client
	limit  int
}

// allowScript checks and increments atomically. KEYS[1] is the caller's
// window key, ARGV[1] the limit, ARGV[2] the window length in seconds.
// Returns {allowed, count, ttl_seconds}.
var allowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return {0, count, redis.call('TTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {1, count, redis.call('TTL', KEYS[1])}
`)

func NewRedisLimiter(redisURL string, limit int) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client, limit: limit}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, callerID string) (Decision, error) {
	key := "ratelimit:" + callerID

	res, err := allowScript.Run(ctx, l.client, []string{key},
		l.limit, int(Window.Seconds())).Int64Slice()
	if err != nil {
		return Decision{}, err
	}

	allowed := res[0] == 1
	count := int(res[1])
	ttl := time.Duration(res[2]) * time.Second
	if ttl < 0 {
		ttl = Window
	}
	resetAt := time.Now().Add(ttl)

	if !allowed {
		return Decision{
			Allowed:    false,
			RetryAfter: int(math.Ceil(ttl.Seconds())),
			ResetAt:    resetAt,
		}, nil
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Client exposes the underlying connection for health checks.
func (l *RedisLimiter) Client() *redis.Client {
	return l.client
}
