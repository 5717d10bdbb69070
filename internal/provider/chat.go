package provider

import (
	"context"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

// LLMChatter adapts an llm.Client to the Chatter capability.
type LLMChatter struct {
	name   string
	client llm.Client
	model  string
	prices PriceTable
}

// ChatOption configures an LLMChatter.
type ChatOption func(*LLMChatter)

// WithChatModel sets the model used when a request names none.
func WithChatModel(model string) ChatOption {
	return func(c *LLMChatter) {
		c.model = model
	}
}

// WithChatPrices replaces the price table.
func WithChatPrices(t PriceTable) ChatOption {
	return func(c *LLMChatter) {
		c.prices = t
	}
}

// NewLLMChatter wraps client.
func NewLLMChatter(name string, client llm.Client, opts ...ChatOption) *LLMChatter {
	c := &LLMChatter{name: name, client: client, prices: DefaultChatPrices}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Chatter.
func (c *LLMChatter) Name() string { return c.name }

// EstimateCost prices the prompt plus the full output allowance.
func (c *LLMChatter) EstimateCost(req llm.CompletionRequest) float64 {
	out := req.MaxTokens
	if out <= 0 {
		out = defaultMaxTokens
	}
	return c.prices.For(c.modelFor(req)).Tokens(llm.EstimateTokens(req.PromptText()), out)
}

// Generate implements Chatter.
func (c *LLMChatter) Generate(ctx context.Context, req llm.CompletionRequest) (ChatResult, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return ChatResult{}, err
	}

	usage := resp.Usage
	if !usage.Reported() {
		usage.InputTokens = llm.EstimateTokens(req.PromptText())
		usage.OutputTokens = llm.EstimateTokens(resp.Content)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return ChatResult{
		Content: resp.Content,
		Usage:   usage,
		Model:   model,
		CostUSD: c.prices.For(model).Tokens(usage.InputTokens, usage.OutputTokens),
	}, nil
}

func (c *LLMChatter) modelFor(req llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}
