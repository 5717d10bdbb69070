// Package provider defines the capabilities the pipeline consumes from
// external services and ships HTTP, dry-run, and fallback implementations.
//
// Stages never talk to a vendor directly. A Researcher, Chatter, or
// Synthesizer is called through a resilience.Handler and each reports what
// the call cost so it can be written to the ledger.
package provider

import (
	"context"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

// Recency restricts research results to a publication window.
type Recency string

const (
	RecencyAny   Recency = ""
	RecencyDay   Recency = "day"
	RecencyWeek  Recency = "week"
	RecencyMonth Recency = "month"
	RecencyYear  Recency = "year"
)

// Citation is a source returned by research.
type Citation struct {
	URL         string
	Title       string
	PublishedAt *time.Time
}

// SearchRequest is one research query.
type SearchRequest struct {
	Query       string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Recency     Recency
}

// SearchResult is the answer to a research query.
type SearchResult struct {
	Content   string
	Citations []Citation
	Usage     llm.TokenUsage
	Model     string
	CostUSD   float64
	Synthetic bool
}

// Researcher answers research queries with cited content.
type Researcher interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	EstimateCost(req SearchRequest) float64
}

// ChatResult is a chat completion with its cost.
type ChatResult struct {
	Content   string
	Usage     llm.TokenUsage
	Model     string
	CostUSD   float64
	Synthetic bool
}

// Chatter generates chat completions.
type Chatter interface {
	Name() string
	Generate(ctx context.Context, req llm.CompletionRequest) (ChatResult, error)
	EstimateCost(req llm.CompletionRequest) float64
}

// VoiceSettings tune speech synthesis.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings are used when none are configured.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.5,
	SimilarityBoost: 0.75,
	Style:           0.0,
	SpeakerBoost:    true,
}

// SynthesisRequest asks for text to be rendered to an audio file.
type SynthesisRequest struct {
	Text       string
	VoiceID    string
	ModelID    string
	Settings   VoiceSettings
	OutputPath string
	Timeout    time.Duration
}

// SynthesisResult describes the written audio file.
type SynthesisResult struct {
	FilePath        string
	DurationSeconds float64
	CharacterCount  int
	CostUSD         float64
	Synthetic       bool
}

// Synthesizer renders speech.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
	EstimateCost(req SynthesisRequest) float64
}

// wordsPerMinute is the narration pace used for duration estimates.
const wordsPerMinute = 150

// EstimateDuration returns the spoken length of text in seconds.
func EstimateDuration(text string) float64 {
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	return float64(words) / wordsPerMinute * 60
}
