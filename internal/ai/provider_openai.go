package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL     = "https://api.siliconflow.cn/v1"
	defaultModel       = "Qwen/Qwen3-VL-32B-Instruct"
	defaultMaxTokens   = 2000
	defaultTemperature = 0.1
)

// OpenAICompatProvider implements Provider for any OpenAI-compatible
// chat-completions endpoint (SiliconFlow, vLLM, Ollama's /v1).
type OpenAICompatProvider struct {
	client     *openai.Client
	name       string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures an OpenAICompatProvider.
type OpenAIOption func(*OpenAICompatProvider)

// WithBaseURL sets the base URL of the API, including the /v1 suffix.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAICompatProvider) {
		p.baseURL = url
	}
}

// WithModel sets the model used when a request names none.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAICompatProvider) {
		p.model = model
	}
}

// WithHTTPClient sets a custom HTTP client, typically one with a timeout.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAICompatProvider) {
		p.httpClient = client
	}
}

// WithProviderName sets the provider name used in logs.
func WithProviderName(name string) OpenAIOption {
	return func(p *OpenAICompatProvider) {
		p.name = name
	}
}

// NewOpenAICompatProvider creates a provider for an OpenAI-compatible API.
func NewOpenAICompatProvider(apiKey string, opts ...OpenAIOption) *OpenAICompatProvider {
	p := &OpenAICompatProvider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		name:       "vlm",
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}

	cfg := openai.DefaultConfig(p.apiKey)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.httpClient
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

// Name returns the provider name.
func (p *OpenAICompatProvider) Name() string {
	return p.name
}

func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return CompletionResponse{}, mapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("no choices in response")
	}

	return CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// buildMessages keeps plain-text messages as strings and switches to
// multi-part content only when images are attached.
func buildMessages(in []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		if len(m.ImageURLs) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		for _, url := range m.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// APIError is a non-2xx reply from the model endpoint.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api error (status %d): %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func mapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("send request: %w", err)
}

// HealthCheck lists the endpoint's models.
func (p *OpenAICompatProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", mapAPIError(err))
	}
	return nil
}
