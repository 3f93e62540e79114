package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mpontes/llm-gateway/internal/catalog"
	"github.com/mpontes/llm-gateway/internal/domain"
	"github.com/mpontes/llm-gateway/internal/gate"
	"github.com/mpontes/llm-gateway/internal/provider"
	"github.com/mpontes/llm-gateway/internal/ratelimit"
	"github.com/mpontes/llm-gateway/internal/retry"
)

// MockAdapter implements provider.Adapter for testing.
type MockAdapter struct {
	IDValue  string
	ChatFunc func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error)
}

func (m *MockAdapter) ID() string {
	return m.IDValue
}

func (m *MockAdapter) Chat(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
	return m.ChatFunc(ctx, p)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.FromEntries([]domain.ModelEntry{
		{ID: "openai-gpt-5-nano", Provider: "openai", UpstreamModel: "gpt-5-nano", MaxTokens: 16384, SupportsJSON: true},
		{ID: "openrouter-foo-free", Provider: "openrouter", UpstreamModel: "foo/foo-7b:free", MaxTokens: 8192, SupportsJSON: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type pipelineOpts struct {
	limit    int
	maxSlots int
	retry    retry.Policy
	adapter  *MockAdapter
}

func newTestPipeline(t *testing.T, opts pipelineOpts) *Pipeline {
	t.Helper()
	if opts.limit == 0 {
		opts.limit = 100
	}
	if opts.maxSlots == 0 {
		opts.maxSlots = 10
	}
	if opts.retry.MaxAttempts == 0 {
		opts.retry = retry.Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	}

	adapters := map[string]provider.Adapter{}
	if opts.adapter != nil {
		adapters[opts.adapter.IDValue] = opts.adapter
	}

	return New(Config{
		Limiter:  ratelimit.NewInMemoryLimiter(opts.limit),
		Gate:     gate.New(opts.maxSlots),
		Catalog:  testCatalog(t),
		Adapters: adapters,
		Retry:    opts.retry,
	})
}

func chatRequest() *domain.ChatRequest {
	return &domain.ChatRequest{
		Provider: "openai",
		Model:    "gpt-5-nano",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
		UserID:   "caller-1",
	}
}

func okAdapter() *MockAdapter {
	return &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{
				Content:  "hi",
				Model:    p.Model,
				Provider: "openai",
				Usage:    &domain.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
			}, nil
		},
	}
}

func TestExecute_Success(t *testing.T) {
	var gotModel string
	adapter := okAdapter()
	inner := adapter.ChatFunc
	adapter.ChatFunc = func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
		gotModel = p.Model
		return inner(ctx, p)
	}
	p := newTestPipeline(t, pipelineOpts{adapter: adapter})

	resp, err := p.Execute(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q", resp.Content)
	}
	if gotModel != "gpt-5-nano" {
		t.Errorf("adapter received model %q, want the resolved upstream string", gotModel)
	}
}

func TestExecute_ValidatesRequest(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{adapter: okAdapter()})

	tests := []struct {
		name   string
		mutate func(r *domain.ChatRequest)
	}{
		{"missing provider", func(r *domain.ChatRequest) { r.Provider = "" }},
		{"missing model", func(r *domain.ChatRequest) { r.Model = "" }},
		{"missing user id", func(r *domain.ChatRequest) { r.UserID = "" }},
		{"no messages", func(r *domain.ChatRequest) { r.Messages = nil }},
		{"unknown provider", func(r *domain.ChatRequest) { r.Provider = "azure" }},
		{"bad role", func(r *domain.ChatRequest) { r.Messages[0].Role = "robot" }},
		{"empty content", func(r *domain.ChatRequest) { r.Messages[0].Content = "" }},
		{"temperature out of range", func(r *domain.ChatRequest) { temp := 3.5; r.Temperature = &temp }},
		{"non-positive max tokens", func(r *domain.ChatRequest) { n := 0; r.MaxTokens = &n }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chatRequest()
			tt.mutate(req)

			_, err := p.Execute(context.Background(), req)
			se, ok := domain.AsError(err)
			if !ok || se.Code != domain.CodeInvalidRequest {
				t.Fatalf("error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestExecute_RateLimitExceeded(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{limit: 2, adapter: okAdapter()})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Execute(ctx, chatRequest()); err != nil {
			t.Fatalf("request %d: error = %v", i+1, err)
		}
	}

	_, err := p.Execute(ctx, chatRequest())
	se, ok := domain.AsError(err)
	if !ok || se.Code != domain.CodeRateLimitExceeded {
		t.Fatalf("error = %v, want RATE_LIMIT_EXCEEDED", err)
	}
	if !se.Retryable {
		t.Error("rate limit rejection must be retryable")
	}
	details, ok := se.Details.(domain.RateLimitDetails)
	if !ok || details.RetryAfterSeconds <= 0 || details.RetryAfterSeconds > 60 {
		t.Errorf("details = %v, want RetryAfterSeconds in (0, 60]", se.Details)
	}
}

func TestExecute_ModelNotFound(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{adapter: okAdapter()})

	req := chatRequest()
	req.Model = "gpt-nonexistent"

	_, err := p.Execute(context.Background(), req)
	se, ok := domain.AsError(err)
	if !ok || se.Code != domain.CodeModelNotFound {
		t.Fatalf("error = %v, want MODEL_NOT_FOUND", err)
	}
}

func TestExecute_AliasResolution(t *testing.T) {
	adapter := &MockAdapter{
		IDValue: "openrouter",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Content: "ok", Model: p.Model, Provider: "openrouter"}, nil
		},
	}
	p := newTestPipeline(t, pipelineOpts{adapter: adapter})

	req := chatRequest()
	req.Provider = "openrouter"
	req.Model = "openrouter:foo"

	resp, err := p.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Model != "foo/foo-7b:free" {
		t.Errorf("dispatched model = %q, want the catalog's upstream string", resp.Model)
	}
}

func TestExecute_ProviderNotConfigured(t *testing.T) {
	// Catalog knows openai models, but no openai adapter is registered.
	p := newTestPipeline(t, pipelineOpts{adapter: &MockAdapter{
		IDValue:  "openrouter",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) { return nil, nil },
	}})

	_, err := p.Execute(context.Background(), chatRequest())
	se, ok := domain.AsError(err)
	if !ok || se.Code != domain.CodeProviderNotConfigured {
		t.Fatalf("error = %v, want PROVIDER_NOT_CONFIGURED", err)
	}
}

func TestExecute_RetriesTransientFailureThenSucceeds(t *testing.T) {
	calls := 0
	adapter := &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			calls++
			if calls == 1 {
				return nil, domain.NewError(domain.CodeProviderError, true, "openai error: HTTP 500")
			}
			return &domain.ChatResponse{Content: "recovered", Model: p.Model, Provider: "openai"}, nil
		},
	}
	p := newTestPipeline(t, pipelineOpts{
		adapter: adapter,
		retry:   retry.Policy{MaxAttempts: 2, BaseBackoff: 30 * time.Millisecond},
	})

	start := time.Now()
	resp, err := p.Execute(context.Background(), chatRequest())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if calls != 2 {
		t.Errorf("adapter calls = %d, want 2", calls)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least one backoff delay", elapsed)
	}
}

func TestExecute_NonRetryableFailureNotRetried(t *testing.T) {
	calls := 0
	adapter := &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			calls++
			return nil, domain.NewError(domain.CodeProviderAuthFailed, false, "openai auth failed: bad key")
		},
	}
	p := newTestPipeline(t, pipelineOpts{adapter: adapter})

	_, err := p.Execute(context.Background(), chatRequest())
	se, ok := domain.AsError(err)
	if !ok || se.Code != domain.CodeProviderAuthFailed {
		t.Fatalf("error = %v, want PROVIDER_AUTH_FAILED", err)
	}
	if calls != 1 {
		t.Errorf("adapter calls = %d, want 1", calls)
	}
}

func TestExecute_ConcurrencyCeiling(t *testing.T) {
	block := make(chan struct{})
	adapter := &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			<-block
			return &domain.ChatResponse{Content: "done", Provider: "openai"}, nil
		},
	}
	g := gate.New(1)
	p := New(Config{
		Limiter:  ratelimit.NewInMemoryLimiter(100),
		Gate:     g,
		Catalog:  testCatalog(t),
		Adapters: map[string]provider.Adapter{"openai": adapter},
		Retry:    retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Execute(ctx, chatRequest())
	}()

	// Wait until the first dispatch holds the only slot.
	deadline := time.Now().Add(time.Second)
	for g.InFlight() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first dispatch never acquired the slot")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := p.Execute(ctx, chatRequest())
	se, ok := domain.AsError(err)
	if !ok || se.Code != domain.CodeConcurrencyExceeded {
		t.Fatalf("error = %v, want CONCURRENCY_LIMIT_EXCEEDED", err)
	}
	if !se.Retryable {
		t.Error("concurrency rejection must be retryable")
	}

	close(block)
	wg.Wait()

	// Slot must be free again after the in-flight dispatch completed.
	if _, err := p.Execute(ctx, chatRequest()); err != nil {
		t.Errorf("Execute() after release error = %v", err)
	}
}

func TestExecute_SlotReleasedOnFailure(t *testing.T) {
	adapter := &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			return nil, domain.NewError(domain.CodeProviderError, false, "openai error: HTTP 400")
		},
	}
	p := newTestPipeline(t, pipelineOpts{maxSlots: 1, adapter: adapter})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Execute(ctx, chatRequest())
		se, ok := domain.AsError(err)
		if !ok || se.Code != domain.CodeProviderError {
			t.Fatalf("request %d: error = %v, want PROVIDER_ERROR (slot leak?)", i+1, err)
		}
	}
}

func TestExecute_SchemaValidation(t *testing.T) {
	schemaDoc := json.RawMessage(`{"type":"object","required":["x"],"properties":{"x":{"type":"number"}}}`)

	makeAdapter := func(output string) *MockAdapter {
		return &MockAdapter{
			IDValue: "openai",
			ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
				var parsed any
				json.Unmarshal([]byte(output), &parsed)
				return &domain.ChatResponse{Content: output, Parsed: parsed, Model: p.Model, Provider: "openai"}, nil
			},
		}
	}

	t.Run("conforming output passes", func(t *testing.T) {
		p := newTestPipeline(t, pipelineOpts{adapter: makeAdapter(`{"x":1}`)})
		req := chatRequest()
		req.ResponseSchema = schemaDoc

		resp, err := p.Execute(context.Background(), req)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if resp.Parsed == nil {
			t.Error("Parsed should carry the decoded payload")
		}
	})

	t.Run("null output fails validation", func(t *testing.T) {
		// "null" parses cleanly to a nil payload; it must still be checked
		// against the schema rather than skipped.
		p := newTestPipeline(t, pipelineOpts{adapter: makeAdapter(`null`)})
		req := chatRequest()
		req.ResponseSchema = schemaDoc

		_, err := p.Execute(context.Background(), req)
		se, ok := domain.AsError(err)
		if !ok || se.Code != domain.CodeSchemaValidation {
			t.Fatalf("error = %v, want SCHEMA_VALIDATION_FAILED for null payload", err)
		}
	})

	t.Run("violating output fails without retry", func(t *testing.T) {
		calls := 0
		adapter := makeAdapter(`{"x":"abc"}`)
		inner := adapter.ChatFunc
		adapter.ChatFunc = func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			calls++
			return inner(ctx, p)
		}
		p := newTestPipeline(t, pipelineOpts{adapter: adapter})
		req := chatRequest()
		req.ResponseSchema = schemaDoc

		_, err := p.Execute(context.Background(), req)
		se, ok := domain.AsError(err)
		if !ok || se.Code != domain.CodeSchemaValidation {
			t.Fatalf("error = %v, want SCHEMA_VALIDATION_FAILED", err)
		}
		if calls != 1 {
			t.Errorf("adapter calls = %d, want 1 (schema failures are final)", calls)
		}
	})
}

func TestExecute_CancellationDuringBackoff(t *testing.T) {
	adapter := &MockAdapter{
		IDValue: "openai",
		ChatFunc: func(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
			return nil, domain.NewError(domain.CodeProviderError, true, "openai error: HTTP 500")
		},
	}
	p := newTestPipeline(t, pipelineOpts{
		adapter: adapter,
		retry:   retry.Policy{MaxAttempts: 5, BaseBackoff: 10 * time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(ctx, chatRequest())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Execute() should fail after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Execute() did not return promptly after cancellation")
	}
}
