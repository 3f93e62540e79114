package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *Adapter) ID() string {
	return domain.ProviderOpenAI
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
		return nil, domain.NewError(domain.CodeProviderError, false, "openai returned an undecodable body: %v", err)
	}

	return a.normalize(chatResp, p)
}

func (a *Adapter) normalize(resp chatResponse, p provider.Params) (*domain.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.CodeProviderError, false, "openai returned no choices")
	}

	content := provider.ExtractText(resp.Choices[0].Message.Content)

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

	if len(p.OutputSchema) > 0 {
		parsed, err := provider.ParseJSONOutput(a.ID(), content)
		if err != nil {
			return nil, err
		}
		out.Parsed = parsed
	}

	return out, nil
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []domain.Message `json:"messages"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
	User           string           `json:"user,omitempty"`
}

// responseFormat requests OpenAI's strict JSON-schema mode, which constrains
// decoding to the supplied schema rather than merely hinting at JSON output.
type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

func buildRequest(p provider.Params) chatRequest {
	req := chatRequest{
		Model:       p.Model,
		Messages:    p.Messages,
		Temperature: p.TemperatureOrDefault(),
		MaxTokens:   p.MaxTokens,
		User:        p.RequestID,
	}
	if len(p.OutputSchema) > 0 {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   "response",
				Strict: true,
				Schema: p.OutputSchema,
			},
		}
	}
	return req
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
