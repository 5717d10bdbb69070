package llm

import (
	"context"
	"sync"
)

// MockClient is a Client for tests.
type MockClient struct {
	mu         sync.Mutex
	response   string
	responses  []string
	next       int
	err        error
	completeFn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	usage      TokenUsage

	// Calls records every request in order.
	Calls []CompletionRequest
}

// NewMockClient creates a mock that always answers response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithResponses makes the mock cycle through responses.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithUsage sets the usage reported by every call.
func (m *MockClient) WithUsage(u TokenUsage) *MockClient {
	m.usage = u
	return m
}

// WithCompleteFunc delegates every call to fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.completeFn = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.completeFn
	err := m.err
	content := m.response
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	usage := m.usage
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if !usage.Reported() {
		usage.InputTokens = max(1, EstimateTokens(req.PromptText()))
		usage.OutputTokens = max(1, EstimateTokens(content))
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return &CompletionResponse{
		Content:      content,
		Usage:        usage,
		Model:        req.Model,
		FinishReason: "stop",
	}, nil
}

// CallCount returns the number of calls made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}
