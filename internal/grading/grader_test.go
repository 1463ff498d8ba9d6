package grading_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/ai"
	"github.com/p-n-ai/pai-homework/internal/grading"
	"github.com/p-n-ai/pai-homework/internal/practice"
)

var equation = practice.Exercise{
	ID:           1,
	QuestionText: "求解方程 2x + 3 = 7",
	AnswerText:   "x = 2",
	AnswerSteps:  "移项得 2x = 4，两边除以2得 x = 2",
	Difficulty:   practice.DifficultyMedium,
}

// imageFailProvider fails any request carrying images.
type imageFailProvider struct {
	mu       sync.Mutex
	requests []ai.CompletionRequest
}

func (p *imageFailProvider) Complete(_ context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if req.HasImages() {
		return ai.CompletionResponse{}, errors.New("image too large")
	}
	return ai.CompletionResponse{Content: `{"student_answer": "x=2", "is_correct": true}`}, nil
}

func (p *imageFailProvider) HealthCheck(context.Context) error { return nil }

func TestGrader_TextAnswer(t *testing.T) {
	mock := ai.NewMockProvider(`{"student_answer": "x = 2", "is_correct": true, "feedback": "正确"}`)
	g := grading.NewGrader(grading.GraderConfig{Provider: mock, Model: "test-vl"})

	a, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerText: "x = 2"})
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !a.IsCorrect || a.Feedback != "正确" {
		t.Errorf("Grade() = %+v", a)
	}

	req := mock.LastRequest
	if req == nil {
		t.Fatal("provider not called")
	}
	if req.Task != ai.TaskAnswerAnalysis || req.Model != "test-vl" || req.MaxTokens != 1000 {
		t.Errorf("request = task %v model %q max %d", req.Task, req.Model, req.MaxTokens)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{"题目：求解方程 2x + 3 = 7", "标准答案：x = 2", "学生答案：x = 2", "is_correct"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGrader_ImageAnswer(t *testing.T) {
	mock := ai.NewMockProvider(`{"student_answer": "x = 2", "is_correct": true}`)
	g := grading.NewGrader(grading.GraderConfig{Provider: mock})
	png := []byte("\x89PNG\r\n\x1a\n0000")

	if _, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerImage: png}); err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	req := mock.LastRequest
	if req.Task != ai.TaskImageAnalysis || req.MaxTokens != 2000 {
		t.Errorf("request = task %v max %d, want image analysis 2000", req.Task, req.MaxTokens)
	}
	urls := req.Messages[0].ImageURLs
	if len(urls) != 1 || !strings.HasPrefix(urls[0], "data:image/png;base64,") {
		t.Errorf("ImageURLs = %v, want one png data URL", urls)
	}
	if !strings.Contains(req.Messages[0].Content, "答案相关性检查") {
		t.Error("image prompt should ask for a relevance check")
	}
}

func TestGrader_ImageFailureFallsBackToText(t *testing.T) {
	p := &imageFailProvider{}
	g := grading.NewGrader(grading.GraderConfig{Provider: p})

	a, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerText: "x=2", AnswerImage: []byte{0xff, 0xd8}})
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !a.IsCorrect {
		t.Errorf("Grade() = %+v, want text verdict", a)
	}
	if len(p.requests) != 2 || p.requests[1].HasImages() {
		t.Errorf("requests = %d, want image then text", len(p.requests))
	}

	_, err = g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerImage: []byte{0xff, 0xd8}})
	if err == nil {
		t.Error("Grade() with only a failing image should return the error")
	}
}

func TestGrader_UnparseableReply(t *testing.T) {
	g := grading.NewGrader(grading.GraderConfig{Provider: ai.NewMockProvider("我无法判断")})

	a, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerText: "不知道"})
	if err != nil {
		t.Fatalf("Grade() error = %v, want default analysis", err)
	}
	if a.IsCorrect || a.StudentAnswer != "无法识别答案" {
		t.Errorf("Grade() = %+v, want default analysis", a)
	}
}

func TestGrader_Errors(t *testing.T) {
	g := grading.NewGrader(grading.GraderConfig{Provider: ai.NewMockProvider("{}")})
	if _, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerText: "  "}); !errors.Is(err, grading.ErrEmptyAnswer) {
		t.Errorf("Grade(empty) error = %v, want ErrEmptyAnswer", err)
	}

	g = grading.NewGrader(grading.GraderConfig{})
	if _, err := g.Grade(context.Background(), grading.Request{Exercise: equation, AnswerText: "1"}); !errors.Is(err, ai.ErrNoProvider) {
		t.Errorf("Grade(no provider) error = %v, want ErrNoProvider", err)
	}
}

func TestDataURL(t *testing.T) {
	if got := grading.DataURL([]byte("abc"), "image/webp"); got != "data:image/webp;base64,YWJj" {
		t.Errorf("DataURL(explicit) = %q", got)
	}
	if got := grading.DataURL([]byte("abc"), ""); !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("DataURL(unknown) = %q, want jpeg fallback", got)
	}
}
