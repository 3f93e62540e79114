package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpontes/llm-gateway/internal/auth"
	"github.com/mpontes/llm-gateway/internal/catalog"
	"github.com/mpontes/llm-gateway/internal/domain"
	"github.com/mpontes/llm-gateway/internal/metrics"
	"github.com/mpontes/llm-gateway/internal/pipeline"
	"github.com/mpontes/llm-gateway/internal/telemetry"
)

type HandlerConfig struct {
	Verifier *auth.Verifier
	Pipeline *pipeline.Pipeline
	Catalog  *catalog.Catalog
	Checkers []HealthChecker
}

type Handler struct {
	verifier *auth.Verifier
	pipeline *pipeline.Pipeline
	catalog  *catalog.Catalog
	checkers []HealthChecker
	mux      *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		verifier: cfg.Verifier,
		pipeline: cfg.Pipeline,
		catalog:  cfg.Catalog,
		checkers: cfg.Checkers,
		mux:      http.NewServeMux(),
	}

	// Health and readiness are unauthenticated by design.
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mux.Handle("GET /v1/models", h.requireSignature(h.handleListModels))
	h.mux.Handle("POST /v1/chat", h.requireSignature(h.handleChat))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api.chat")
	defer span.End()
	start := time.Now()

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, domain.NewError(domain.CodeInvalidRequest, false, "invalid request body: %v", err))
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", req.RequestID)

	traceID := telemetry.GetTraceID(ctx)
	if traceID != "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	resp, err := h.pipeline.Execute(ctx, &req)
	latency := time.Since(start)

	if err != nil {
		se := domain.Internalize(err)
		metrics.RecordRequest(req.Provider, req.Model, string(se.Code), latency.Seconds())
		slog.Warn("chat request failed",
			"request_id", req.RequestID,
			"trace_id", traceID,
			"caller_id", req.UserID,
			"provider", req.Provider,
			"model", req.Model,
			"code", se.Code,
			"latency_ms", latency.Milliseconds(),
		)
		if details, ok := se.Details.(domain.RateLimitDetails); ok {
			w.Header().Set("Retry-After", strconv.Itoa(details.RetryAfterSeconds))
		}
		writeFailure(w, se)
		return
	}

	metrics.RecordRequest(resp.Provider, resp.Model, "ok", latency.Seconds())
	slog.Info("chat request completed",
		"request_id", req.RequestID,
		"trace_id", traceID,
		"caller_id", req.UserID,
		"provider", resp.Provider,
		"model", resp.Model,
		"latency_ms", latency.Milliseconds(),
	)

	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"models": h.catalog.Entries(),
	})
}

// envelope is the uniform response body: success with data, or a typed error.
type envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *domain.Error `json:"error,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, se *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(se.Code))
	json.NewEncoder(w).Encode(envelope{Success: false, Error: se})
}

func writeFailureStatus(w http.ResponseWriter, status int, se *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: se})
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeModelNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// drainBody reads and restores a request body so signature verification can
// see the exact bytes the handler will decode.
func drainBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := readAllLimited(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = newReadCloser(body)
	return body, nil
}

func newReadCloser(b []byte) *readCloser {
	return &readCloser{Reader: bytes.NewReader(b)}
}

type readCloser struct {
	*bytes.Reader
}

func (rc *readCloser) Close() error { return nil }
