// Package eigencloud adapts the EigenCloud verifiable-inference API. Beyond
// the usual chat fields its responses carry attestation data (a signature and
// a chain identifier) which the gateway passes through as provider metadata.
package eigencloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mpontes/llm-gateway/internal/domain"
	"github.com/mpontes/llm-gateway/internal/provider"
)

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string, client *http.Client) *Adapter {
	return &Adapter{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *Adapter) ID() string {
	return domain.ProviderEigenCloud
}

func (a *Adapter) Chat(ctx context.Context, p provider.Params) (*domain.ChatResponse, error) {
	if err := provider.CheckModel(a.ID(), p.Model); err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRequest(p))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.WrapTransport(a.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(a.ID(), resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, domain.NewError(domain.CodeProviderError, false, "eigencloud returned an undecodable body: %v", err)
	}

	return a.normalize(chatResp, p)
}

func (a *Adapter) normalize(resp chatResponse, p provider.Params) (*domain.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.CodeProviderError, false, "eigencloud returned no choices")
	}

	content := extractContent(resp.Choices[0].Message)

	out := &domain.ChatResponse{
		Content:           content,
		Model:             resp.Model,
		Provider:          a.ID(),
		UpstreamRequestID: resp.ID,
	}
	if out.Model == "" {
		out.Model = p.Model
	}
	if resp.Usage != nil {
		out.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	if resp.Signature != "" || resp.ChainID != "" {
		out.Metadata = map[string]string{}
		if resp.Signature != "" {
			out.Metadata["signature"] = resp.Signature
		}
		if resp.ChainID != "" {
			out.Metadata["chain_id"] = resp.ChainID
		}
	}

	if len(p.OutputSchema) > 0 {
		parsed, err := provider.ParseJSONOutput(a.ID(), content)
		if err != nil {
			return nil, err
		}
		out.Parsed = parsed
	}

	return out, nil
}

// extractContent applies the observed fallback chain for EigenCloud message
// payloads: content, then answer, then reasoning, then text. The order
// matches upstream behavior and is deliberately not reordered.
func extractContent(m message) string {
	if s := provider.ExtractText(m.Content); s != "" {
		return s
	}
	if m.Answer != "" {
		return m.Answer
	}
	if m.Reasoning != "" {
		return m.Reasoning
	}
	return m.Text
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []domain.Message `json:"messages"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func buildRequest(p provider.Params) chatRequest {
	req := chatRequest{
		Model:       p.Model,
		Messages:    p.Messages,
		Temperature: p.TemperatureOrDefault(),
		MaxTokens:   p.MaxTokens,
	}
	if len(p.OutputSchema) > 0 {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

type chatResponse struct {
	ID        string   `json:"id"`
	Model     string   `json:"model"`
	Choices   []choice `json:"choices"`
	Usage     *usage   `json:"usage"`
	Signature string   `json:"signature,omitempty"`
	ChainID   string   `json:"chain_id,omitempty"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type message struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Answer    string          `json:"answer,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Text      string          `json:"text,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
