// Package ratelimit tracks per-caller request counts in fixed 60-second
// windows. Supports both in-memory (single instance) and Redis (distributed)
// backends behind the same interface.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Window is the fixed length of every rate window.
const Window = time.Minute

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds until the caller's window resets; set when denied
	ResetAt    time.Time
}

// Limiter decides whether a caller may issue another request right now.
type Limiter interface {
	Allow(ctx context.Context, callerID string) (Decision, error)
}

// InMemoryLimiter implements fixed-window rate limiting with one window per
// caller id. A denied request never increments the window count.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter(limit int) *InMemoryLimiter {
	return &InMemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		now:     time.Now,
	}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, callerID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[callerID]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(Window)}
		l.windows[callerID] = w
	}

	if w.count >= l.limit {
		retryAfter := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
		return Decision{Allowed: false, RetryAfter: retryAfter, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: l.limit - w.count, ResetAt: w.resetAt}, nil
}

// Sweep removes windows that have already expired. Expired windows are also
// replaced lazily on the next Allow, so this only bounds memory for callers
// that have gone idle.
func (l *InMemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
		}
	}
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (l *InMemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Tracked returns the number of caller windows currently held.
func (l *InMemoryLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
