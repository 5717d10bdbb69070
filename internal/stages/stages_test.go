package stages

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
)

const testTopic = "dark matter"

func testConfig(t *testing.T) episode.Config {
	t.Helper()
	cfg := episode.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.VoiceID = "voice-1"
	return cfg
}

func newState(t *testing.T, cfg episode.Config) episode.State {
	t.Helper()
	s, err := episode.New(testTopic, cfg)
	require.NoError(t, err)
	return s
}

func noSleep(context.Context, time.Duration) error { return nil }

func testServices() Services {
	return Services{
		Researcher:  provider.NewMockResearcher("Dark matter does not emit light. It bends it."),
		Chatter:     provider.NewMockChatter("- first point\n- second point"),
		Synthesizer: provider.NewMockSynthesizer(),
		Scorer:      quality.StaticScorer{Value: 9},
		Handlers:    resilience.NewRegistry(resilience.WithSleep(noSleep)),
	}
}

type recordedMetric struct {
	name  string
	value float64
	tags  map[string]string
}

// metricSink keeps every metric and drops spans and costs.
type metricSink struct {
	observability.NoopSink

	mu      sync.Mutex
	metrics []recordedMetric
}

func (s *metricSink) RecordMetric(_ context.Context, name string, value float64, tags map[string]string, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, recordedMetric{name: name, value: value, tags: tags})
}

func (s *metricSink) named(name string) []recordedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedMetric
	for _, m := range s.metrics {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

func testCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background(), flowgraph.WithContextRunID("run-test"))
}

func withOutput(t *testing.T, s episode.State, out episode.Output) episode.State {
	t.Helper()
	next, err := s.UpdateStage(out.Stage(), out)
	require.NoError(t, err)
	return next
}

func discovered(t *testing.T, s episode.State, contents ...string) episode.State {
	t.Helper()
	out := &episode.ResearchOutput{Kind: episode.StageResearchDiscovery}
	for i, c := range contents {
		out.Findings = append(out.Findings, episode.Finding{
			Query:     "q" + string(rune('1'+i)),
			Content:   c,
			Citations: []episode.Citation{{URL: "https://example.com/" + string(rune('a'+i))}},
		})
	}
	return withOutput(t, s, out)
}

func scripted(t *testing.T, s episode.State, text string) episode.State {
	t.Helper()
	return withOutput(t, s, &episode.ScriptOutput{
		Text:      text,
		WordCount: wordCount(text),
		Attempt:   1,
		FilePath:  ArtifactPath(s.Config.OutputDir, s.EpisodeID, "script.md"),
	})
}

func TestDryRun_EveryStageProducesOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	reg := NewRegistry(Services{})
	s := newState(t, cfg)

	for _, name := range episode.Stages() {
		var err error
		s, err = reg.MustGet(name).Run(testCtx(), s)
		require.NoError(t, err, name)
		assert.True(t, s.StageOutputs.Has(name), name)
	}

	assert.Equal(t, episode.StageCompleted, s.CurrentStage)
	assert.Empty(t, s.Errors)
	assert.Empty(t, reg.Services().Ledger.Entries(s.EpisodeID))
	assert.Zero(t, s.TotalCost())

	assert.True(t, s.StageOutputs.Discovery.Synthetic())
	assert.Equal(t, episode.DecisionGenerateAudio, s.StageOutputs.Polished.Decision)
	assert.True(t, s.StageOutputs.Audio.Synthetic)
	assert.True(t, s.StageOutputs.Quality.Passed)
	assert.FileExists(t, s.StageOutputs.Script.FilePath)
	assert.FileExists(t, s.StageOutputs.Quality.ReportPath)
}

func TestDiscovery_PartialFailure(t *testing.T) {
	svc := testServices()
	r := provider.NewMockResearcher("").WithSearchFunc(func(_ context.Context, req provider.SearchRequest) (provider.SearchResult, error) {
		if strings.Contains(req.Query, "unknown") {
			return provider.SearchResult{}, fgerrors.Refused(errors.New("query rejected"), "search")
		}
		return provider.SearchResult{Content: "Finding for " + req.Query, CostUSD: 0.10}, nil
	})
	svc.Researcher = r
	reg := NewRegistry(svc)

	s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, testConfig(t)))
	require.NoError(t, err)

	out := s.StageOutputs.Discovery
	require.NotNil(t, out)
	assert.Equal(t, 3, r.CallCount())
	assert.Len(t, out.Queries, 3)
	assert.Len(t, out.Findings, 2)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "provider_refused", out.Failures[0].Kind)
	assert.Contains(t, out.Failures[0].Query, "unknown")
	assert.InDelta(t, 0.20, out.CostUSD, 1e-9)

	assert.Empty(t, s.Errors, "partial failures stay in the output")
	assert.Len(t, reg.Services().Ledger.Entries(s.EpisodeID), 2)
	assert.Equal(t, episode.StageResearchDiscovery, s.CurrentStage)
}

func TestDiscovery_AllQueriesFail(t *testing.T) {
	svc := testServices()
	svc.Researcher = provider.NewMockResearcher("").WithError(fgerrors.Refused(errors.New("no"), "search"))
	reg := NewRegistry(svc)

	s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, testConfig(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 research queries failed")

	require.Len(t, s.Errors, 1)
	assert.Equal(t, episode.StageResearchDiscovery, s.Errors[0].Stage)
	assert.Equal(t, "provider_refused", s.Errors[0].Kind)
	assert.Equal(t, 1, s.RetryCounters[episode.StageResearchDiscovery])
	assert.False(t, s.StageOutputs.Has(episode.StageResearchDiscovery))
}

func TestResearch_BreakerFallback(t *testing.T) {
	svc := testServices()
	calls := 0
	svc.Researcher = provider.NewMockResearcher("").WithSearchFunc(func(context.Context, provider.SearchRequest) (provider.SearchResult, error) {
		calls++
		return provider.SearchResult{}, fgerrors.Transient(errors.New("connection reset"), "search")
	})
	svc.Concurrency = 1
	svc.Handlers.Configure(HandlerResearch,
		resilience.WithPolicy(resilience.NoRetry),
		resilience.WithBreakerConfig(resilience.BreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
			MaxProbes:        1,
		}),
	)
	reg := NewRegistry(svc)

	s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, testConfig(t)))
	require.NoError(t, err)

	out := s.StageOutputs.Discovery
	assert.Equal(t, 1, calls, "open breaker stops further calls")
	assert.Len(t, out.Failures, 1)
	require.Len(t, out.Findings, 2)
	for _, f := range out.Findings {
		assert.True(t, f.Synthetic)
	}
	assert.True(t, out.Synthetic())
	assert.Empty(t, reg.Services().Ledger.Entries(s.EpisodeID), "fallbacks cost nothing")
}

func TestBudget(t *testing.T) {
	t.Run("strict mode stops before the call", func(t *testing.T) {
		svc := testServices()
		r := provider.NewMockResearcher("x.").WithCost(0.6, 0.6)
		svc.Researcher = r
		reg := NewRegistry(svc)

		cfg := testConfig(t)
		cfg.BudgetUSD = 1.00
		s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, cfg))
		require.ErrorIs(t, err, cost.ErrBudgetExceeded)
		assert.Zero(t, r.CallCount())
		require.Len(t, s.Errors, 1)
		assert.Equal(t, "budget_exceeded", s.Errors[0].Kind)
	})

	t.Run("warn mode proceeds", func(t *testing.T) {
		svc := testServices()
		r := provider.NewMockResearcher("x.").WithCost(0.6, 0.6)
		svc.Researcher = r
		reg := NewRegistry(svc)

		cfg := testConfig(t)
		cfg.BudgetUSD = 1.00
		cfg.Enforcement = "warn"
		s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, cfg))
		require.NoError(t, err)
		assert.Equal(t, 3, r.CallCount())
		assert.InDelta(t, 1.80, s.TotalCost(), 1e-9)
	})

	t.Run("warn mode overruns reach the sink", func(t *testing.T) {
		sink := &metricSink{}
		svc := testServices()
		svc.Sink = sink
		svc.Researcher = provider.NewMockResearcher("x.").WithCost(0.6, 0.6)
		reg := NewRegistry(svc)

		cfg := testConfig(t)
		cfg.BudgetUSD = 1.00
		cfg.Enforcement = "warn"
		s, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, cfg))
		require.NoError(t, err)

		warnings := sink.named(observability.MetricBudgetWarning)
		require.NotEmpty(t, warnings, "three queries at $0.60 cross a $1.00 budget")
		for _, m := range warnings {
			assert.Equal(t, 1.0, m.value)
			assert.Equal(t, s.EpisodeID, m.tags["episode_id"])
			assert.Equal(t, string(episode.StageResearchDiscovery), m.tags["stage"])
		}
	})

	t.Run("strict mode records no warning", func(t *testing.T) {
		sink := &metricSink{}
		svc := testServices()
		svc.Sink = sink
		svc.Researcher = provider.NewMockResearcher("x.").WithCost(0.6, 0.6)
		reg := NewRegistry(svc)

		cfg := testConfig(t)
		cfg.BudgetUSD = 1.00
		_, err := reg.MustGet(episode.StageResearchDiscovery).Run(testCtx(), newState(t, cfg))
		require.ErrorIs(t, err, cost.ErrBudgetExceeded)
		assert.Empty(t, sink.named(observability.MetricBudgetWarning))
	})

	t.Run("estimate recorded when cost unknown", func(t *testing.T) {
		svc := testServices()
		svc.Chatter = provider.NewMockChatter("Brief.\n- point").WithCost(0, 0.05)
		reg := NewRegistry(svc)

		s := discovered(t, newState(t, testConfig(t)), "A finding.")
		s, err := reg.MustGet(episode.StageResearchSynthesis).Run(testCtx(), s)
		require.NoError(t, err)

		entries := reg.Services().Ledger.Entries(s.EpisodeID)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Estimated)
		assert.InDelta(t, 0.05, s.StageOutputs.Synthesis.CostUSD, 1e-9)
	})
}

func TestValidation(t *testing.T) {
	svc := testServices()
	chat := provider.NewMockChatter("1. SUPPORTED - well known\n2. disputed: contested\nthree is unclear")
	svc.Chatter = chat
	reg := NewRegistry(svc)

	s := discovered(t, newState(t, testConfig(t)),
		"Dark matter is invisible. Details follow.",
		"Galaxies rotate too fast! More.",
		"Nobody knows what it is",
	)
	s, err := reg.MustGet(episode.StageResearchValidation).Run(testCtx(), s)
	require.NoError(t, err)

	out := s.StageOutputs.Validation
	require.Len(t, out.Claims, 3)
	assert.Equal(t, "Dark matter is invisible.", out.Claims[0].Claim)
	assert.Equal(t, episode.VerdictSupported, out.Claims[0].Verdict)
	assert.Equal(t, episode.VerdictDisputed, out.Claims[1].Verdict)
	assert.Equal(t, episode.VerdictUnverified, out.Claims[2].Verdict)
	assert.Equal(t, []string{"https://example.com/a"}, out.Claims[0].Sources)
	assert.InDelta(t, 1.0/3, out.Confidence, 1e-9)

	require.Equal(t, 1, chat.CallCount())
	assert.Contains(t, chat.Calls[0].Messages[0].Content, "2. Galaxies rotate too fast!")
}

func TestSynthesis_RepeatReplacesOutput(t *testing.T) {
	svc := testServices()
	svc.Chatter = provider.NewMockChatter("Summary.\n- one\n- two", "Summary again.\n- three")
	reg := NewRegistry(svc)

	s := discovered(t, newState(t, testConfig(t)), "A finding.", "Another finding.")
	st := reg.MustGet(episode.StageResearchSynthesis)

	first, err := st.Run(testCtx(), s)
	require.NoError(t, err)
	second, err := st.Run(testCtx(), first)
	require.NoError(t, err)

	assert.Equal(t, first.StageOutputs.Completed(), second.StageOutputs.Completed())
	assert.Equal(t, []string{"three"}, second.StageOutputs.Synthesis.KeyPoints)
	assert.Len(t, second.StageOutputs.Synthesis.Citations, 2)
	assert.Equal(t, 2, second.Completions[episode.StageResearchSynthesis])
	assert.Equal(t, []string{"one", "two"}, first.StageOutputs.Synthesis.KeyPoints, "earlier state untouched")
}

func TestPlanningAndWriting(t *testing.T) {
	svc := testServices()
	svc.Chatter = provider.NewMockChatter(
		"Title: The Invisible Universe\n- Opening: what we see\n- Mystery: what we do not",
		"Welcome to Nobody Knows. Today, dark matter.",
	)
	reg := NewRegistry(svc)

	cfg := testConfig(t)
	cfg.TargetMinutes = 10
	s := withOutput(t, newState(t, cfg), &episode.SynthesisOutput{Brief: "brief"})

	s, err := reg.MustGet(episode.StagePlanning).Run(testCtx(), s)
	require.NoError(t, err)
	plan := s.StageOutputs.Plan
	assert.Equal(t, "The Invisible Universe", plan.Title)
	require.Len(t, plan.Segments, 2)
	assert.Equal(t, "Mystery", plan.Segments[1].Heading)
	assert.InDelta(t, 5.0, plan.Segments[0].Minutes, 1e-9)

	s, err = reg.MustGet(episode.StageWriting).Run(testCtx(), s)
	require.NoError(t, err)
	script := s.StageOutputs.Script
	assert.Equal(t, 1, script.Attempt)
	assert.Equal(t, 7, script.WordCount)
	data, err := os.ReadFile(script.FilePath)
	require.NoError(t, err)
	assert.Equal(t, script.Text+"\n", string(data))
}

func TestWriting_MissingPlan(t *testing.T) {
	reg := NewRegistry(testServices())
	s, err := reg.MustGet(episode.StageWriting).Run(testCtx(), newState(t, testConfig(t)))
	require.Error(t, err)
	assert.Equal(t, fgerrors.KindInvalidInput, fgerrors.Classify(err))
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "invalid_input", s.Errors[0].Kind)
}

func TestPolishing_Decisions(t *testing.T) {
	tests := []struct {
		name         string
		score        float64
		retries      int
		wantDecision string
		wantRetries  int
		wantFeedback []string
	}{
		{"pass", 9, 0, episode.DecisionGenerateAudio, 0, []string{}},
		{"retry", 5, 0, episode.DecisionRetryWriting, 1, []string{"tighten the intro"}},
		{"second retry", 5, 1, episode.DecisionRetryWriting, 2, []string{"tighten the intro"}},
		{"retries used", 5, 2, episode.DecisionSkipAudio, 2, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testServices()
			svc.Chatter = provider.NewMockChatter("Polished script.")
			svc.Scorer = quality.StaticScorer{Value: tt.score, Advice: []string{"tighten the intro"}}
			reg := NewRegistry(svc)

			s := scripted(t, newState(t, testConfig(t)), "Rough script.")
			s.RetryCounters[episode.StageWriting] = tt.retries

			s, err := reg.MustGet(episode.StagePolishing).Run(testCtx(), s)
			require.NoError(t, err)

			p := s.StageOutputs.Polished
			assert.Equal(t, tt.wantDecision, p.Decision)
			assert.Equal(t, "Polished script.", p.Text)
			assert.Equal(t, tt.wantRetries, s.RetryCounters[episode.StageWriting])
			assert.Equal(t, tt.wantFeedback, s.Feedback)

			data, err := os.ReadFile(s.StageOutputs.Script.FilePath)
			require.NoError(t, err)
			assert.Equal(t, "Polished script.\n", string(data))
		})
	}
}

func TestAudioAndQualityCheck(t *testing.T) {
	svc := testServices()
	tts := provider.NewMockSynthesizer().WithCost(0.30, 0.25)
	svc.Synthesizer = tts
	reg := NewRegistry(svc)

	s := scripted(t, newState(t, testConfig(t)), "Script.")
	s = withOutput(t, s, &episode.PolishOutput{
		Text:     "Polished <break time=\"1s\"/> script.",
		Gate:     episode.GateResult{Pass: true, Score: 9, Threshold: 8},
		Decision: episode.DecisionGenerateAudio,
	})

	s, err := reg.MustGet(episode.StageAudioGeneration).Run(testCtx(), s)
	require.NoError(t, err)
	audio := s.StageOutputs.Audio
	assert.Equal(t, ArtifactPath(s.Config.OutputDir, s.EpisodeID, "audio.mp3"), audio.FilePath)
	assert.Equal(t, "voice-1", audio.VoiceID)
	assert.InDelta(t, 0.30, audio.CostUSD, 1e-9)
	require.Equal(t, 1, tts.CallCount())
	assert.Equal(t, "voice-1", tts.Calls[0].VoiceID)

	s, err = reg.MustGet(episode.StageQualityCheck).Run(testCtx(), s)
	require.NoError(t, err)
	q := s.StageOutputs.Quality
	assert.True(t, q.Passed)
	assert.Empty(t, q.FailureCause)
	assert.Equal(t, episode.StageCompleted, s.CurrentStage)
	assert.FileExists(t, q.ReportPath)
}

func TestQualityCheck_SkippedAudio(t *testing.T) {
	reg := NewRegistry(testServices())

	s := withOutput(t, newState(t, testConfig(t)), &episode.PolishOutput{
		Text:     "Weak script.",
		Gate:     episode.GateResult{Score: 6, Threshold: 8},
		Decision: episode.DecisionSkipAudio,
	})
	s, err := reg.MustGet(episode.StageQualityCheck).Run(testCtx(), s)
	require.NoError(t, err)

	q := s.StageOutputs.Quality
	assert.False(t, q.Passed)
	assert.True(t, q.AudioSkipped)
	assert.Contains(t, q.FailureCause, "polish score 6.0 below threshold 8.0")
}

func TestStage_RetryLimit(t *testing.T) {
	svc := testServices()
	svc.Chatter = provider.NewMockChatter().WithError(fgerrors.Refused(errors.New("bad request"), "chat"))
	reg := NewRegistry(svc)

	cfg := testConfig(t)
	cfg.MaxStageRetries = 1
	s := discovered(t, newState(t, cfg), "A finding.")
	st := reg.MustGet(episode.StageResearchSynthesis)

	s, err := st.Run(testCtx(), s)
	require.Error(t, err)
	var limit *episode.RetryLimitError
	assert.False(t, errors.As(err, &limit))
	assert.Equal(t, 1, s.RetryCounters[episode.StageResearchSynthesis])

	s, err = st.Run(testCtx(), s)
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, episode.StageResearchSynthesis, limit.Stage)
	assert.Len(t, s.Errors, 2)
	assert.Len(t, s.UnresolvedErrors(), 2)
}

func TestWallBudget(t *testing.T) {
	svc := testServices()
	chat := provider.NewMockChatter("unused")
	svc.Chatter = chat
	reg := NewRegistry(svc)

	ctx := flowgraph.NewContext(WithWallDeadline(context.Background(), time.Now().Add(-time.Second)))
	s := discovered(t, newState(t, testConfig(t)), "A finding.")

	_, err := reg.MustGet(episode.StageResearchSynthesis).Run(ctx, s)
	require.ErrorIs(t, err, ErrWallBudget)
	assert.Zero(t, chat.CallCount())

	d, ok := WallDeadline(ctx)
	assert.True(t, ok)
	assert.True(t, d.Before(time.Now()))
}

func TestControlNodes(t *testing.T) {
	reg := NewRegistry(testServices())
	s := newState(t, testConfig(t))

	next, err := reg.MustGet(episode.StageCostCheck).Run(testCtx(), s)
	require.NoError(t, err)
	assert.Equal(t, episode.StageCostCheck, next.CurrentStage)
	assert.Empty(t, next.StageOutputs.Completed())

	failed := s.AddError(episode.StageWriting, "provider_refused", "no")
	next, err = reg.MustGet(episode.StageErrorHandler).Run(testCtx(), failed)
	require.NoError(t, err)
	assert.Equal(t, episode.StageFailed, next.CurrentStage)
	assert.Len(t, next.UnresolvedErrors(), 1)
}

func TestRegistry(t *testing.T) {
	t.Run("names in pipeline order", func(t *testing.T) {
		reg := NewRegistry(testServices())
		names := reg.Names()
		require.Len(t, names, 12)
		assert.Equal(t, episode.StageResearchDiscovery, names[0])
		assert.Equal(t, episode.StageErrorHandler, names[11])
		assert.Empty(t, reg.Check())
	})

	t.Run("unconfigured adapters", func(t *testing.T) {
		reg := NewRegistry(Services{})
		problems := reg.Check()
		assert.Len(t, problems, 10)
		assert.ErrorIs(t, problems[episode.StagePolishing], ErrNotConfigured)
		assert.ErrorContains(t, problems[episode.StagePolishing], "scorer")
		assert.NotContains(t, problems, episode.StageCostCheck)
	})

	t.Run("register replaces", func(t *testing.T) {
		reg := NewRegistry(testServices())
		reg.Register(newErrorHandler(reg.Services()))
		_, ok := reg.Get(episode.StageErrorHandler)
		assert.True(t, ok)
		assert.Panics(t, func() { reg.MustGet("nope") })
	})
}

func TestStage_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := testServices()
	svc.Sink = observability.NewOTelSink(observability.WithTracerProvider(tp))
	reg := NewRegistry(svc)

	s := discovered(t, newState(t, testConfig(t)), "A finding.")
	_, err := reg.MustGet(episode.StageResearchSynthesis).Run(testCtx(), s)
	require.NoError(t, err)

	var names []string
	for _, sp := range recorder.Ended() {
		names = append(names, sp.Name())
	}
	assert.Equal(t, []string{"attempt.chat", "adapter.chat", "stage.research_synthesis"}, names)
}
