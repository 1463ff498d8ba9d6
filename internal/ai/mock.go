package ai

import (
	"context"
	"sync"
)

// MockProvider is a test double for AI providers. When Responses is set the
// replies are returned in order and the last one repeats.
type MockProvider struct {
	Response  string
	Responses []string
	Err       error
	// FailTimes makes the first N calls fail with Err before succeeding.
	FailTimes int

	mu          sync.Mutex
	calls       int
	served      int
	LastRequest *CompletionRequest // captures the last request for inspection
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.LastRequest = &req
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}
	if m.Err != nil && (m.FailTimes == 0 || m.calls <= m.FailTimes) {
		return CompletionResponse{}, m.Err
	}

	m.served++
	content := m.Response
	if n := len(m.Responses); n > 0 {
		content = m.Responses[min(m.served, n)-1]
	}
	return CompletionResponse{
		Content:      content,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(content),
	}, nil
}

// Calls returns how many completions were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	if m.FailTimes > 0 {
		return nil
	}
	return m.Err
}
