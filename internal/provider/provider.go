// Package provider defines the adapter contract every upstream LLM provider
// implements, plus the error-classification and content-extraction helpers
// shared by the concrete adapters.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mpontes/llm-gateway/internal/domain"
)

// Params carries one upstream chat invocation. Model is the resolved upstream
// model string; the caller-facing alias is gone by the time a Params exists.
type Params struct {
	Model        string
	Messages     []domain.Message
	Temperature  *float64
	MaxTokens    *int
	OutputSchema json.RawMessage
	RequestID    string
}

// DefaultTemperature is used when the caller did not supply one.
const DefaultTemperature = 0.7

func (p Params) TemperatureOrDefault() float64 {
	if p.Temperature != nil {
		return *p.Temperature
	}
	return DefaultTemperature
}

// Adapter executes one upstream call and normalizes its response and errors.
type Adapter interface {
	ID() string
	Chat(ctx context.Context, p Params) (*domain.ChatResponse, error)
}

// CheckModel rejects placeholder/template model identifiers that reached
// dispatch without going through the resolver. These show up when a catalog
// entry was templated but never filled in.
func CheckModel(providerID, model string) error {
	if model == "" || strings.ContainsAny(model, "{}<>") || strings.Contains(model, "${") {
		return domain.NewError(domain.CodeModelNotConfigured, false,
			"model %q for provider %s is a placeholder, not a configured upstream model", model, providerID)
	}
	return nil
}

// ClassifyStatus maps a non-success upstream HTTP status to a gateway error:
// 429 is upstream rate limiting (retryable), 401/403 an auth failure
// (non-retryable), >=500 a provider error (retryable), and any other 4xx a
// provider error (non-retryable).
func ClassifyStatus(providerID string, status int, body []byte) *domain.Error {
	msg := ErrorMessage(body, status)

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewError(domain.CodeProviderRateLimited, true, "%s rate limited: %s", providerID, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewError(domain.CodeProviderAuthFailed, false, "%s auth failed: %s", providerID, msg)
	case status >= 500:
		return domain.NewError(domain.CodeProviderError, true, "%s error: %s", providerID, msg)
	default:
		return domain.NewError(domain.CodeProviderError, false, "%s error: %s", providerID, msg)
	}
}

// ErrorMessage extracts a human message from an upstream error body,
// falling back to a generic "HTTP <status>" when the body is unparseable.
func ErrorMessage(body []byte, status int) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
		// Some providers put the message at the top level.
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Error) > 0 {
			var obj struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
				return obj.Message
			}
			var s string
			if err := json.Unmarshal(envelope.Error, &s); err == nil && s != "" {
				return s
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return "HTTP " + strconv.Itoa(status)
}

// WrapTransport classifies a transport-level failure from http.Client.Do.
// Deadline hits become PROVIDER_TIMEOUT (retryable, distinct from HTTP-level
// errors); other network failures are treated as transient provider errors.
func WrapTransport(providerID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewError(domain.CodeProviderTimeout, true, "%s request timed out: %v", providerID, err)
	}
	return domain.NewError(domain.CodeProviderError, true, "%s request failed: %v", providerID, err)
}

// ParseJSONOutput parses model output that was requested as JSON. Parse
// failure is a model-output problem, not a transient provider failure, so the
// error is non-retryable.
func ParseJSONOutput(providerID, content string) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, domain.NewError(domain.CodeJSONParseFailed, false,
			"%s returned output that is not valid JSON: %v", providerID, err).
			WithDetails(map[string]string{"content": content})
	}
	return parsed, nil
}

// ExtractText decodes a message content field defensively: providers return
// it as a plain string, as a list of typed parts, or as a single object with
// a text field.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}

	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}

	return ""
}
