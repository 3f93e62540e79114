// Package gate bounds the number of simultaneously in-flight upstream
// dispatches across the whole process. The gate never queues: when the
// ceiling is reached, acquisition fails immediately with a retryable error so
// the caller can back off and retry itself.
package gate

import (
	"sync"

	"github.com/mpontes/llm-gateway/internal/domain"
)

type Gate struct {
	mu       sync.Mutex
	inFlight int
	max      int
}

func New(max int) *Gate {
	return &Gate{max: max}
}

// Acquire claims a slot or fails with CONCURRENCY_LIMIT_EXCEEDED. Every
// successful Acquire must be paired with exactly one Release.
func (g *Gate) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight >= g.max {
		return domain.NewError(domain.CodeConcurrencyExceeded, true,
			"concurrency limit reached (%d in flight)", g.inFlight)
	}
	g.inFlight++
	return nil
}

func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight > 0 {
		g.inFlight--
	}
}

// InFlight returns the current number of held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Do runs fn inside an acquired slot, releasing it on every outcome.
func (g *Gate) Do(fn func() error) error {
	if err := g.Acquire(); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
