package provider

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

// MockResearcher is a Researcher for tests.
type MockResearcher struct {
	mu       sync.Mutex
	content  string
	cost     float64
	estimate float64
	err      error
	searchFn func(ctx context.Context, req SearchRequest) (SearchResult, error)

	// Calls records every request in order.
	Calls []SearchRequest
}

// NewMockResearcher creates a mock that answers every query with content.
func NewMockResearcher(content string) *MockResearcher {
	return &MockResearcher{content: content}
}

// WithCost sets the reported and estimated cost of every call.
func (m *MockResearcher) WithCost(usd, estimate float64) *MockResearcher {
	m.cost, m.estimate = usd, estimate
	return m
}

// WithError makes every call fail with err.
func (m *MockResearcher) WithError(err error) *MockResearcher {
	m.err = err
	return m
}

// WithSearchFunc delegates every call to fn.
func (m *MockResearcher) WithSearchFunc(fn func(ctx context.Context, req SearchRequest) (SearchResult, error)) *MockResearcher {
	m.searchFn = fn
	return m
}

// Name implements Researcher.
func (m *MockResearcher) Name() string { return "mock-research" }

// EstimateCost implements Researcher.
func (m *MockResearcher) EstimateCost(SearchRequest) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimate
}

// Search implements Researcher.
func (m *MockResearcher) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err, content, usd := m.searchFn, m.err, m.content, m.cost
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return SearchResult{}, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		Content:   content,
		Citations: []Citation{{URL: "https://example.com/" + req.Query, Title: req.Query}},
		Model:     "mock",
		CostUSD:   usd,
	}, nil
}

// CallCount returns the number of calls made.
func (m *MockResearcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockChatter is a Chatter for tests. It cycles through its responses.
type MockChatter struct {
	mu         sync.Mutex
	responses  []string
	next       int
	cost       float64
	estimate   float64
	err        error
	generateFn func(ctx context.Context, req llm.CompletionRequest) (ChatResult, error)

	// Calls records every request in order.
	Calls []llm.CompletionRequest
}

// NewMockChatter creates a mock that answers with responses in turn.
func NewMockChatter(responses ...string) *MockChatter {
	if len(responses) == 0 {
		responses = []string{"ok"}
	}
	return &MockChatter{responses: responses}
}

// WithCost sets the reported and estimated cost of every call.
func (m *MockChatter) WithCost(usd, estimate float64) *MockChatter {
	m.cost, m.estimate = usd, estimate
	return m
}

// WithError makes every call fail with err.
func (m *MockChatter) WithError(err error) *MockChatter {
	m.err = err
	return m
}

// WithGenerateFunc delegates every call to fn.
func (m *MockChatter) WithGenerateFunc(fn func(ctx context.Context, req llm.CompletionRequest) (ChatResult, error)) *MockChatter {
	m.generateFn = fn
	return m
}

// Name implements Chatter.
func (m *MockChatter) Name() string { return "mock-chat" }

// EstimateCost implements Chatter.
func (m *MockChatter) EstimateCost(llm.CompletionRequest) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimate
}

// Generate implements Chatter.
func (m *MockChatter) Generate(ctx context.Context, req llm.CompletionRequest) (ChatResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err, usd := m.generateFn, m.err, m.cost
	content := m.responses[m.next%len(m.responses)]
	m.next++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ChatResult{}, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Content: content, Model: "mock", CostUSD: usd}, nil
}

// CallCount returns the number of calls made.
func (m *MockChatter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockSynthesizer is a Synthesizer for tests. It reports the requested
// output path without writing audio.
type MockSynthesizer struct {
	mu       sync.Mutex
	cost     float64
	estimate float64
	err      error

	// Calls records every request in order.
	Calls []SynthesisRequest
}

// NewMockSynthesizer creates a mock that always succeeds.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

// WithCost sets the reported and estimated cost of every call.
func (m *MockSynthesizer) WithCost(usd, estimate float64) *MockSynthesizer {
	m.cost, m.estimate = usd, estimate
	return m
}

// WithError makes every call fail with err.
func (m *MockSynthesizer) WithError(err error) *MockSynthesizer {
	m.err = err
	return m
}

// Name implements Synthesizer.
func (m *MockSynthesizer) Name() string { return "mock-tts" }

// EstimateCost implements Synthesizer.
func (m *MockSynthesizer) EstimateCost(SynthesisRequest) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimate
}

// Synthesize implements Synthesizer.
func (m *MockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	err, usd := m.err, m.cost
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return SynthesisResult{}, err
	}
	if err != nil {
		return SynthesisResult{}, err
	}
	text := StripTags(req.Text)
	return SynthesisResult{
		FilePath:        req.OutputPath,
		DurationSeconds: EstimateDuration(text),
		CharacterCount:  utf8.RuneCountInString(text),
		CostUSD:         usd,
	}, nil
}

// CallCount returns the number of calls made.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
