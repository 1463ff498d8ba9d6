package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/pai-homework/internal/ai"
)

func analysisRequest() ai.CompletionRequest {
	return ai.CompletionRequest{
		Messages: []ai.Message{{Role: "user", Content: "题目: 1+1=? 学生答案: 2"}},
		Task:     ai.TaskAnswerAnalysis,
	}
}

func TestRouter_SingleProvider(t *testing.T) {
	router := ai.NewRouter()
	mock := ai.NewMockProvider(`{"is_correct": true}`)
	router.Register("primary", mock)

	resp, err := router.Complete(context.Background(), analysisRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != `{"is_correct": true}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if mock.LastRequest == nil || mock.LastRequest.Task != ai.TaskAnswerAnalysis {
		t.Errorf("LastRequest = %+v, want answer analysis task", mock.LastRequest)
	}
}

func TestRouter_Fallback(t *testing.T) {
	router := ai.NewRouter()
	failing := &ai.MockProvider{Err: errors.New("rate limited")}
	fallback := ai.NewMockProvider("Fallback response")

	router.Register("primary", failing)
	router.Register("fallback", fallback)

	resp, err := router.Complete(context.Background(), analysisRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "Fallback response" {
		t.Errorf("Content = %q, want %q", resp.Content, "Fallback response")
	}
	if failing.Calls() != 1 || fallback.Calls() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", failing.Calls(), fallback.Calls())
	}
}

func TestRouter_AllProvidersFail(t *testing.T) {
	router := ai.NewRouter()
	errPrimary := errors.New("fail 1")
	router.Register("primary", &ai.MockProvider{Err: errPrimary})
	router.Register("fallback", &ai.MockProvider{Err: errors.New("fail 2")})

	_, err := router.Complete(context.Background(), analysisRequest())
	if err == nil {
		t.Fatal("Complete() should return error when all providers fail")
	}
	if !errors.Is(err, errPrimary) {
		t.Errorf("Complete() error = %v, want it to wrap the primary failure", err)
	}
}

func TestRouter_NoProviders(t *testing.T) {
	router := ai.NewRouter()

	if _, err := router.Complete(context.Background(), analysisRequest()); !errors.Is(err, ai.ErrNoProvider) {
		t.Errorf("Complete() error = %v, want ErrNoProvider", err)
	}
	if err := router.HealthCheck(context.Background()); !errors.Is(err, ai.ErrNoProvider) {
		t.Errorf("HealthCheck() error = %v, want ErrNoProvider", err)
	}
}

func TestRouter_CancelledContext(t *testing.T) {
	router := ai.NewRouter()
	mock := ai.NewMockProvider("ok")
	router.Register("primary", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := router.Complete(ctx, analysisRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("Complete() error = %v, want context.Canceled", err)
	}
	if mock.Calls() != 0 {
		t.Errorf("provider called %d times after cancel", mock.Calls())
	}
}

func TestRouter_HasProvider(t *testing.T) {
	router := ai.NewRouter()
	if router.HasProvider() {
		t.Error("HasProvider() should be false with no providers")
	}

	router.Register("mock", ai.NewMockProvider("ok"))
	if !router.HasProvider() {
		t.Error("HasProvider() should be true after Register")
	}
}

func TestRouter_FallbackOrder(t *testing.T) {
	router := ai.NewRouter()

	// First registered should be tried first.
	router.Register("first", ai.NewMockProvider("first"))
	router.Register("second", ai.NewMockProvider("second"))
	// Re-registering keeps the original position.
	router.Register("first", ai.NewMockProvider("first again"))

	resp, err := router.Complete(context.Background(), analysisRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "first again" {
		t.Errorf("Content = %q, want %q", resp.Content, "first again")
	}
}

func TestRouter_HealthCheck(t *testing.T) {
	router := ai.NewRouter()
	router.Register("down", &ai.MockProvider{Err: errors.New("down")})
	if err := router.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when every provider is down")
	}

	router.Register("up", ai.NewMockProvider("ok"))
	if err := router.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil with one healthy provider", err)
	}
}

func TestMockProvider_Sequence(t *testing.T) {
	mock := &ai.MockProvider{Responses: []string{"a", "b"}, Err: errors.New("flaky"), FailTimes: 1}
	ctx := context.Background()

	if _, err := mock.Complete(ctx, analysisRequest()); err == nil {
		t.Fatal("first call should fail")
	}
	for _, want := range []string{"a", "b", "b"} {
		resp, err := mock.Complete(ctx, analysisRequest())
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Content != want {
			t.Errorf("Content = %q, want %q", resp.Content, want)
		}
	}
}
