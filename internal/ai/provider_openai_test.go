package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "Qwen/Qwen3-VL-32B-Instruct",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestOpenAICompatProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "Qwen/Qwen3-VL-32B-Instruct" {
			t.Errorf("model = %q, want default model", req.Model)
		}
		if req.MaxTokens != 2000 {
			t.Errorf("max_tokens = %d, want 2000", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply("Hi there!"))
	}))
	defer server.Close()

	provider := NewOpenAICompatProvider("test-key", WithBaseURL(server.URL+"/v1"))
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "Hi there!" {
		t.Errorf("content = %q, want %q", resp.Content, "Hi there!")
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAICompatProvider_Complete_ImageParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}
		parts := req.Messages[0].Content
		if parts[0].Type != "text" || parts[0].Text != "分析这道题" {
			t.Errorf("part[0] = %+v, want text", parts[0])
		}
		if parts[1].Type != "image_url" || parts[1].ImageURL.URL != "data:image/jpeg;base64,AAAA" {
			t.Errorf("part[1] = %+v, want image_url", parts[1])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply(`{"is_correct": true}`))
	}))
	defer server.Close()

	provider := NewOpenAICompatProvider("test-key", WithBaseURL(server.URL+"/v1"))
	req := CompletionRequest{
		Messages: []Message{{Role: "user", Content: "分析这道题", ImageURLs: []string{"data:image/jpeg;base64,AAAA"}}},
		Task:     TaskImageAnalysis,
	}
	if !req.HasImages() {
		t.Fatal("HasImages() = false, want true")
	}
	if _, err := provider.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestOpenAICompatProvider_Complete_APIError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "nope", "type": "error"},
				})
			}))
			defer server.Close()

			provider := NewOpenAICompatProvider("test-key", WithBaseURL(server.URL+"/v1"))
			_, err := provider.Complete(context.Background(), CompletionRequest{Messages: []Message{{Content: "hi"}}})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Complete() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Retryable() != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.wantRetryable)
			}
		})
	}
}

func TestOpenAICompatProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
	}))
	defer server.Close()

	provider := NewOpenAICompatProvider("test-key", WithBaseURL(server.URL+"/v1"), WithProviderName("primary"))
	if err := provider.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if provider.Name() != "primary" {
		t.Errorf("Name() = %q, want primary", provider.Name())
	}
}
