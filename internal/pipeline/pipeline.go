// Package pipeline sequences the request execution path: per-caller rate
// limiting, model resolution, global concurrency admission, dispatch with
// bounded retry, and output-schema validation. Inbound signature checks run
// at the HTTP boundary, which owns the raw body bytes.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/mpontes/llm-gateway/internal/catalog"
	"github.com/mpontes/llm-gateway/internal/domain"
	"github.com/mpontes/llm-gateway/internal/gate"
	"github.com/mpontes/llm-gateway/internal/metrics"
	"github.com/mpontes/llm-gateway/internal/provider"
	"github.com/mpontes/llm-gateway/internal/ratelimit"
	"github.com/mpontes/llm-gateway/internal/retry"
	"github.com/mpontes/llm-gateway/internal/schema"
	"github.com/mpontes/llm-gateway/internal/telemetry"
)

type Config struct {
	Limiter  ratelimit.Limiter
	Gate     *gate.Gate
	Catalog  *catalog.Catalog
	Adapters map[string]provider.Adapter
	Retry    retry.Policy
}

type Pipeline struct {
	limiter  ratelimit.Limiter
	gate     *gate.Gate
	catalog  *catalog.Catalog
	adapters map[string]provider.Adapter
	retry    retry.Policy
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		limiter:  cfg.Limiter,
		gate:     cfg.Gate,
		catalog:  cfg.Catalog,
		adapters: cfg.Adapters,
		retry:    cfg.Retry,
	}
}

// Providers returns the tags with a configured adapter.
func (p *Pipeline) Providers() []string {
	tags := make([]string, 0, len(p.adapters))
	for tag := range p.adapters {
		tags = append(tags, tag)
	}
	return tags
}

// Execute runs one chat request through admission, dispatch and validation.
// Every failure is a *domain.Error; nothing else escapes.
func (p *Pipeline) Execute(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	decision, err := p.limiter.Allow(ctx, req.UserID)
	if err != nil {
		return nil, domain.Internalize(err)
	}
	if !decision.Allowed {
		metrics.RecordRateLimitHit(req.UserID)
		return nil, domain.NewError(domain.CodeRateLimitExceeded, true,
			"rate limit exceeded, retry in %ds", decision.RetryAfter).
			WithDetails(domain.RateLimitDetails{RetryAfterSeconds: decision.RetryAfter})
	}

	entry, err := p.catalog.Resolve(req.Model, req.Provider)
	if err != nil {
		return nil, domain.Internalize(err)
	}

	adapter, ok := p.adapters[entry.Provider]
	if !ok {
		return nil, domain.NewError(domain.CodeProviderNotConfigured, false,
			"provider %q has no credentials configured", entry.Provider)
	}

	if err := p.gate.Acquire(); err != nil {
		metrics.ConcurrencyRejections.Inc()
		return nil, err
	}
	metrics.InFlight.Inc()
	defer func() {
		p.gate.Release()
		metrics.InFlight.Dec()
	}()

	params := provider.Params{
		Model:        entry.UpstreamModel,
		Messages:     req.Messages,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		OutputSchema: req.ResponseSchema,
		RequestID:    req.RequestID,
	}

	resp, err := p.dispatch(ctx, adapter, params, req)
	if err != nil {
		if se, ok := domain.AsError(err); ok {
			metrics.RecordProviderError(entry.Provider, string(se.Code))
		}
		return nil, domain.Internalize(err)
	}

	if len(req.ResponseSchema) > 0 {
		// A non-conforming payload is the final outcome: the content was
		// valid JSON, just not what the caller asked for. A JSON null parses
		// to a nil Parsed and still has to face the schema.
		if err := schema.Validate(resp.Parsed, req.ResponseSchema); err != nil {
			return nil, domain.Internalize(err)
		}
	}

	if resp.Usage != nil {
		metrics.RecordTokens(entry.Provider, entry.UpstreamModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return resp, nil
}

func (p *Pipeline) dispatch(ctx context.Context, adapter provider.Adapter, params provider.Params, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.dispatch")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.UserID, adapter.ID(), params.Model, req.RequestID)

	return retry.Do(ctx, p.retry, func(ctx context.Context, attempt int) (*domain.ChatResponse, error) {
		if attempt > 1 {
			metrics.RecordRetry(adapter.ID())
			slog.Debug("retrying dispatch",
				"provider", adapter.ID(),
				"model", params.Model,
				"attempt", attempt,
				"request_id", req.RequestID,
			)
		}
		telemetry.AddAttemptAttribute(span, attempt)

		resp, err := adapter.Chat(ctx, params)
		if err != nil {
			telemetry.AddErrorAttribute(span, err)
			return nil, err
		}
		if resp.Usage != nil {
			telemetry.AddTokenAttributes(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		return resp, nil
	})
}

func validateRequest(req *domain.ChatRequest) error {
	switch {
	case req.Provider == "":
		return domain.NewError(domain.CodeInvalidRequest, false, "provider is required")
	case req.Model == "":
		return domain.NewError(domain.CodeInvalidRequest, false, "model is required")
	case req.UserID == "":
		return domain.NewError(domain.CodeInvalidRequest, false, "user_id is required")
	case len(req.Messages) == 0:
		return domain.NewError(domain.CodeInvalidRequest, false, "messages must not be empty")
	}

	switch req.Provider {
	case domain.ProviderOpenAI, domain.ProviderOpenRouter, domain.ProviderEigenCloud:
	default:
		return domain.NewError(domain.CodeInvalidRequest, false, "unknown provider %q", req.Provider)
	}

	for i, m := range req.Messages {
		if !domain.ValidRole(m.Role) {
			return domain.NewError(domain.CodeInvalidRequest, false, "message %d has invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return domain.NewError(domain.CodeInvalidRequest, false, "message %d has empty content", i)
		}
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return domain.NewError(domain.CodeInvalidRequest, false, "temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return domain.NewError(domain.CodeInvalidRequest, false, "max_tokens must be positive")
	}

	return nil
}
