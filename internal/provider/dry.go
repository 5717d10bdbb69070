package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

// DryResearcher returns synthetic, zero-cost research without network I/O.
type DryResearcher struct{}

// Name implements Researcher.
func (DryResearcher) Name() string { return "research" }

// EstimateCost implements Researcher.
func (DryResearcher) EstimateCost(SearchRequest) float64 { return 0 }

// Search implements Researcher.
func (DryResearcher) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		Content:   fmt.Sprintf("Dry run research notes for %q.", req.Query),
		Citations: []Citation{{URL: "https://example.invalid/dry-run", Title: "Dry run source"}},
		Model:     "dry-run",
		Synthetic: true,
	}, nil
}

// DryChatter echoes a short synthetic completion at zero cost.
type DryChatter struct{}

// Name implements Chatter.
func (DryChatter) Name() string { return "chat" }

// EstimateCost implements Chatter.
func (DryChatter) EstimateCost(llm.CompletionRequest) float64 { return 0 }

// Generate implements Chatter.
func (DryChatter) Generate(ctx context.Context, req llm.CompletionRequest) (ChatResult, error) {
	if err := ctx.Err(); err != nil {
		return ChatResult{}, err
	}
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	if len(prompt) > 60 {
		prompt = prompt[:60]
	}
	return ChatResult{
		Content:   "Dry run response: " + strings.TrimSpace(prompt),
		Model:     "dry-run",
		Synthetic: true,
	}, nil
}

// DrySynthesizer reports an audio artifact without writing one.
type DrySynthesizer struct{}

// Name implements Synthesizer.
func (DrySynthesizer) Name() string { return "tts" }

// EstimateCost implements Synthesizer.
func (DrySynthesizer) EstimateCost(SynthesisRequest) float64 { return 0 }

// Synthesize implements Synthesizer.
func (DrySynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	if err := ctx.Err(); err != nil {
		return SynthesisResult{}, err
	}
	text := StripTags(req.Text)
	return SynthesisResult{
		FilePath:        req.OutputPath,
		DurationSeconds: EstimateDuration(text),
		CharacterCount:  utf8.RuneCountInString(text),
		Synthetic:       true,
	}, nil
}

// FallbackSearch is the synthetic result used when the research breaker is
// open.
func FallbackSearch(req SearchRequest, cause error) SearchResult {
	return SearchResult{
		Content:   fmt.Sprintf("Research unavailable for %q: %v", req.Query, cause),
		Synthetic: true,
	}
}
