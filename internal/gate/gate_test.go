package gate

import (
	"errors"
	"sync"
	"testing"

	"github.com/mpontes/llm-gateway/internal/domain"
)

func TestGate_FailsFastAtCeiling(t *testing.T) {
	g := New(2)

	if err := g.Acquire(); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if err := g.Acquire(); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	err := g.Acquire()
	if err == nil {
		t.Fatal("third Acquire() should fail at ceiling 2")
	}
	se, ok := domain.AsError(err)
	if !ok {
		t.Fatalf("error %v is not a domain.Error", err)
	}
	if se.Code != domain.CodeConcurrencyExceeded {
		t.Errorf("code = %s, want CONCURRENCY_LIMIT_EXCEEDED", se.Code)
	}
	if !se.Retryable {
		t.Error("concurrency rejection must be retryable")
	}
}

func TestGate_ReleaseFreesSlot(t *testing.T) {
	g := New(1)

	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	g.Release()

	if err := g.Acquire(); err != nil {
		t.Errorf("Acquire() after Release() error = %v", err)
	}
}

func TestGate_DoReleasesOnError(t *testing.T) {
	g := New(1)
	boom := errors.New("boom")

	if err := g.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after failed operation, want 0", g.InFlight())
	}
}

func TestGate_DoReleasesOnPanic(t *testing.T) {
	g := New(1)

	func() {
		defer func() { recover() }()
		g.Do(func() error { panic("upstream exploded") })
	}()

	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after panic, want 0", g.InFlight())
	}
}

func TestGate_NeverExceedsMaxUnderLoad(t *testing.T) {
	const max = 5
	g := New(max)

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g.Do(func() error {
					n := g.InFlight()
					mu.Lock()
					if n > peak {
						peak = n
					}
					mu.Unlock()
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if peak > max {
		t.Errorf("peak in-flight = %d, want <= %d", peak, max)
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after all work done, want 0", g.InFlight())
	}
}
