package domain

import "encoding/json"

// Provider tags accepted on inbound requests. The set is closed: an adapter
// exists for each tag, and the catalog only references these.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderEigenCloud = "eigencloud"
)

// ChatRequest is the inbound request body for POST /v1/chat. It is treated as
// immutable once decoded; the pipeline never writes to it.
type ChatRequest struct {
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	UserID         string          `json:"user_id"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the accepted chat roles.
func ValidRole(role string) bool {
	switch role {
	case "system", "user", "assistant":
		return true
	}
	return false
}

// ChatResponse is the normalized result of one dispatched chat request,
// independent of which provider served it.
type ChatResponse struct {
	Content           string            `json:"content"`
	Parsed            any               `json:"parsed,omitempty"`
	Usage             *Usage            `json:"usage,omitempty"`
	Model             string            `json:"model"`
	Provider          string            `json:"provider"`
	UpstreamRequestID string            `json:"upstream_request_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelEntry is one row of the startup-loaded model catalog. Entries are
// read-only for the process lifetime and shared by reference.
type ModelEntry struct {
	ID            string `json:"id" yaml:"id"`
	Provider      string `json:"provider" yaml:"provider"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	UpstreamModel string `json:"upstream_model" yaml:"upstream_model"`
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`
	SupportsJSON  bool   `json:"supports_json" yaml:"supports_json"`
	CostTier      string `json:"cost_tier,omitempty" yaml:"cost_tier,omitempty"`
}
