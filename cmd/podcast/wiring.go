package main

import (
	"log/slog"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/pipeline"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/settings"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

// speechAuthHeader is the header ElevenLabs-style speech APIs read the key from.
const speechAuthHeader = "xi-api-key"

// buildServices builds an adapter for every provider with credentials.
// Providers without a key stay nil; the stages that need them report so
// from Check and fall back to offline output only in dry runs.
func buildServices(s settings.Settings, sink observability.Sink, logger *slog.Logger) stages.Services {
	svc := stages.Services{
		Sink:        sink,
		Logger:      logger,
		Concurrency: s.Concurrency,
		Queries:     s.Queries,
		CallTimeout: s.CallTimeout,
	}

	if s.Research.Configured() {
		client := llm.NewHTTPClient(s.Research.Endpoint, s.Research.APIKey,
			llm.WithModel(s.Research.Model),
			llm.WithTimeout(s.CallTimeout),
		)
		svc.Researcher = provider.NewHTTPResearcher(stages.HandlerResearch, client,
			provider.WithResearchModel(s.Research.Model))
	}

	if s.Chat.Configured() {
		client := llm.NewHTTPClient(s.Chat.Endpoint, s.Chat.APIKey,
			llm.WithModel(s.Chat.Model),
			llm.WithTimeout(s.CallTimeout),
		)
		chat := provider.NewLLMChatter(stages.HandlerChat, client, provider.WithChatModel(s.Chat.Model))
		svc.Chatter = chat
		svc.Scorer = quality.NewChatScorer(chat, quality.WithScoreModel(s.Chat.Model))
	}

	if s.Speech.Configured() {
		svc.Synthesizer = provider.NewHTTPSynthesizer(stages.HandlerSpeech, s.Speech.Endpoint, s.Speech.APIKey,
			provider.WithSpeechModel(s.Speech.Model),
			provider.WithAuthHeader(speechAuthHeader),
		)
	}
	return svc
}

func engineOptions(s settings.Settings, logger *slog.Logger) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithWallBudget(s.WallBudget),
		pipeline.WithTracing(s.Observability),
	}
	for _, name := range pipeline.Handlers() {
		h, ok := s.Handlers[name]
		if !ok {
			continue
		}
		opts = append(opts, pipeline.WithBreaker(name, h.Breaker()))
		if p, ok := h.Policy(); ok {
			opts = append(opts, pipeline.WithPolicy(name, p))
		}
		if hopts := s.HandlerOptions(name); len(hopts) > 0 {
			opts = append(opts, pipeline.WithHandler(name, hopts...))
		}
	}
	return opts
}
