// Package ai provides a provider-agnostic gateway to vision-language models
// with ordered fallback between endpoints.
package ai

import "context"

// TaskType defines the kind of model request, used for logging and routing.
type TaskType int

const (
	TaskAnswerAnalysis TaskType = iota
	TaskImageAnalysis
)

func (t TaskType) String() string {
	switch t {
	case TaskAnswerAnalysis:
		return "answer_analysis"
	case TaskImageAnalysis:
		return "image_analysis"
	default:
		return "unknown"
	}
}

// Message represents a chat message. ImageURLs may hold http(s) or data URLs.
type Message struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// CompletionRequest is the input to a model completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`
}

// HasImages reports whether any message carries an image part.
func (r CompletionRequest) HasImages() bool {
	for _, m := range r.Messages {
		if len(m.ImageURLs) > 0 {
			return true
		}
	}
	return false
}

// CompletionResponse is the output from a model completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the interface all model endpoints implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	HealthCheck(ctx context.Context) error
}
