package quality

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/template"
)

const scoreSystemPrompt = `You are a demanding podcast editor. Rate the text you are given on a 0 to 10 scale.
Reply with one JSON object and nothing else:
{"score": <number>, "dimensions": {"<name>": <number>}, "advice": ["<concrete change>"]}`

var scorePrompts = template.NewSet().
	Add("score", "Episode topic: ${topic}\nStage: ${stage}\n\nText to rate:\n${text}")

// ChatScorer asks a Chatter to grade text and parses its JSON verdict.
type ChatScorer struct {
	chat      provider.Chatter
	model     string
	maxTokens int
}

// ChatScorerOption configures a ChatScorer.
type ChatScorerOption func(*ChatScorer)

// WithScoreModel overrides the chat model used for scoring.
func WithScoreModel(model string) ChatScorerOption {
	return func(s *ChatScorer) {
		s.model = model
	}
}

// NewChatScorer creates a scorer backed by chat.
func NewChatScorer(chat provider.Chatter, opts ...ChatScorerOption) *ChatScorer {
	s := &ChatScorer{chat: chat, maxTokens: 600}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Scorer.
func (s *ChatScorer) Name() string { return s.chat.Name() }

// EstimateCost implements Scorer.
func (s *ChatScorer) EstimateCost(subj Subject) float64 {
	req, err := s.request(subj)
	if err != nil {
		return 0
	}
	return s.chat.EstimateCost(req)
}

// Score implements Scorer.
func (s *ChatScorer) Score(ctx context.Context, subj Subject) (Score, error) {
	req, err := s.request(subj)
	if err != nil {
		return Score{}, err
	}
	res, err := s.chat.Generate(ctx, req)
	if err != nil {
		return Score{}, err
	}
	score, err := ParseScore(res.Content)
	if err != nil {
		return Score{}, err
	}
	score.Model = res.Model
	score.CostUSD = res.CostUSD
	score.Synthetic = res.Synthetic
	return score, nil
}

func (s *ChatScorer) request(subj Subject) (llm.CompletionRequest, error) {
	prompt, err := scorePrompts.Render("score", map[string]any{
		"topic": subj.Topic,
		"stage": string(subj.Stage),
		"text":  subj.Text,
	})
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	return llm.CompletionRequest{
		SystemPrompt: scoreSystemPrompt,
		Messages:     []llm.Message{llm.UserMessage(prompt)},
		Model:        s.model,
		MaxTokens:    s.maxTokens,
	}, nil
}

type verdict struct {
	Score      *float64           `json:"score"`
	Dimensions map[string]float64 `json:"dimensions"`
	Advice     []string           `json:"advice"`
}

// ParseScore extracts the first JSON object in content as a Score. Models
// often wrap the object in prose or code fences, which are ignored.
func ParseScore(content string) (Score, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Score{}, &fgerrors.JSONParseError{Input: content, Message: "no JSON object in scorer reply"}
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return Score{}, &fgerrors.JSONParseError{Input: content, Message: err.Error()}
	}
	if v.Score == nil {
		return Score{}, &fgerrors.JSONParseError{Input: content, Message: "scorer reply has no score"}
	}
	return Score{Value: *v.Score, Dimensions: v.Dimensions, Advice: v.Advice}, nil
}

// StaticScorer returns the same verdict for every subject at no cost. Dry
// runs use it.
type StaticScorer struct {
	Value      float64
	Dimensions map[string]float64
	Advice     []string
}

// Name implements Scorer.
func (StaticScorer) Name() string { return "static" }

// EstimateCost implements Scorer.
func (StaticScorer) EstimateCost(Subject) float64 { return 0 }

// Score implements Scorer.
func (s StaticScorer) Score(ctx context.Context, _ Subject) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	return Score{
		Value:      s.Value,
		Dimensions: s.Dimensions,
		Advice:     s.Advice,
		Model:      "static",
		Synthetic:  true,
	}, nil
}

var errSequenceEmpty = errors.New("sequence scorer has no values")

// SequenceScorer replays Values in order, repeating the last one. It is
// useful for exercising retry routes.
type SequenceScorer struct {
	Values []float64
	Advice []string

	next int
}

// Name implements Scorer.
func (*SequenceScorer) Name() string { return "sequence" }

// EstimateCost implements Scorer.
func (*SequenceScorer) EstimateCost(Subject) float64 { return 0 }

// Score implements Scorer. It is not safe for concurrent use.
func (s *SequenceScorer) Score(ctx context.Context, _ Subject) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	if len(s.Values) == 0 {
		return Score{}, errSequenceEmpty
	}
	i := min(s.next, len(s.Values)-1)
	s.next++
	return Score{Value: s.Values[i], Advice: s.Advice, Model: "sequence"}, nil
}

// Calls returns how many scores s has produced.
func (s *SequenceScorer) Calls() int { return s.next }
