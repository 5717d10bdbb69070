package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

// HTTPResearcher queries a search-grounded model behind an OpenAI-compatible
// chat endpoint that returns citations alongside its answer.
type HTTPResearcher struct {
	name   string
	client *llm.HTTPClient
	model  string
	prices PriceTable
	system string
}

// ResearchOption configures an HTTPResearcher.
type ResearchOption func(*HTTPResearcher)

// WithResearchModel sets the default model.
func WithResearchModel(model string) ResearchOption {
	return func(r *HTTPResearcher) {
		r.model = model
	}
}

// WithResearchPrices replaces the price table.
func WithResearchPrices(t PriceTable) ResearchOption {
	return func(r *HTTPResearcher) {
		r.prices = t
	}
}

// WithResearchSystemPrompt sets the system prompt sent with every query.
func WithResearchSystemPrompt(prompt string) ResearchOption {
	return func(r *HTTPResearcher) {
		r.system = prompt
	}
}

// NewHTTPResearcher creates a research adapter.
func NewHTTPResearcher(name string, client *llm.HTTPClient, opts ...ResearchOption) *HTTPResearcher {
	r := &HTTPResearcher{
		name:   name,
		client: client,
		prices: DefaultResearchPrices,
		system: "Answer with current, well-sourced facts. Be precise and concise.",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements Researcher.
func (r *HTTPResearcher) Name() string { return r.name }

// EstimateCost implements Researcher.
func (r *HTTPResearcher) EstimateCost(req SearchRequest) float64 {
	out := req.MaxTokens
	if out <= 0 {
		out = defaultMaxTokens
	}
	in := llm.EstimateTokens(r.system + "\n" + req.Query)
	return r.prices.For(r.modelFor(req)).Tokens(in, out)
}

type searchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date"`
}

// Search implements Researcher.
func (r *HTTPResearcher) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	creq := llm.CompletionRequest{
		SystemPrompt: r.system,
		Messages:     []llm.Message{llm.UserMessage(req.Query)},
		Model:        r.modelFor(req),
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Timeout:      req.Timeout,
	}
	if req.Recency != RecencyAny {
		creq.Options = map[string]any{"search_recency_filter": string(req.Recency)}
	}

	resp, raw, err := r.client.Do(ctx, creq)
	if err != nil {
		return SearchResult{}, err
	}

	return SearchResult{
		Content:   resp.Content,
		Citations: parseCitations(raw),
		Usage:     resp.Usage,
		Model:     creq.Model,
		CostUSD:   r.prices.For(creq.Model).Tokens(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// parseCitations prefers structured search results and falls back to the
// bare URL list.
func parseCitations(raw *llm.ChatResponse) []Citation {
	var results []searchResult
	if len(raw.SearchResults) > 0 && json.Unmarshal(raw.SearchResults, &results) == nil && len(results) > 0 {
		out := make([]Citation, 0, len(results))
		for _, sr := range results {
			c := Citation{URL: sr.URL, Title: sr.Title}
			if t, err := time.Parse("2006-01-02", sr.Date); err == nil {
				c.PublishedAt = &t
			}
			out = append(out, c)
		}
		return out
	}

	out := make([]Citation, 0, len(raw.Citations))
	for _, u := range raw.Citations {
		out = append(out, Citation{URL: u})
	}
	return out
}

func (r *HTTPResearcher) modelFor(req SearchRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return r.model
}
