package ai_test

import (
	"testing"

	"github.com/p-n-ai/pai-homework/internal/ai"
)

func TestTaskType_String(t *testing.T) {
	tests := []struct {
		task ai.TaskType
		want string
	}{
		{ai.TaskAnswerAnalysis, "answer_analysis"},
		{ai.TaskImageAnalysis, "image_analysis"},
		{ai.TaskType(2), "unknown"},
		{ai.TaskType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.task.String(); got != tt.want {
			t.Errorf("TaskType(%d).String() = %q, want %q", tt.task, got, tt.want)
		}
	}
}

func TestCompletionResponse_TotalTokens(t *testing.T) {
	resp := ai.CompletionResponse{InputTokens: 100, OutputTokens: 50}
	if resp.TotalTokens() != 150 {
		t.Errorf("TotalTokens() = %d, want 150", resp.TotalTokens())
	}
}

func TestCompletionRequest_HasImages(t *testing.T) {
	req := ai.CompletionRequest{Messages: []ai.Message{{Content: "text only"}}}
	if req.HasImages() {
		t.Error("HasImages() = true for text-only request")
	}
	req.Messages = append(req.Messages, ai.Message{ImageURLs: []string{"https://example.com/q.jpg"}})
	if !req.HasImages() {
		t.Error("HasImages() = false with an image part")
	}
}
