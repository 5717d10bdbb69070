package stages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
)

// ErrWallBudget is returned once an episode's wall-clock budget has run out.
var ErrWallBudget = errors.New("wall budget exhausted")

type wallDeadlineKey struct{}

// WithWallDeadline attaches the episode's wall-clock deadline to ctx. The
// deadline is carried as a value so it survives the engine detaching node
// contexts from cancellation.
func WithWallDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, wallDeadlineKey{}, deadline)
}

// WallDeadline returns the deadline set by WithWallDeadline.
func WallDeadline(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Value(wallDeadlineKey{}).(time.Time)
	return d, ok
}

// call is one stage execution's view of the services.
type call struct {
	ctx    context.Context
	svc    *Services
	state  episode.State
	stage  episode.Stage
	logger *slog.Logger
	guard  *cost.Guard
	dry    bool
}

func newCall(ctx context.Context, svc *Services, s episode.State, name episode.Stage, logger *slog.Logger) *call {
	mode, err := cost.ParseMode(s.Config.Enforcement)
	if err != nil {
		mode = cost.ModeStrict
	}
	// Warn-mode overruns are counted once per allowed call.
	onWarn := cost.OnWarn(func(w cost.Warning) {
		svc.Sink.RecordMetric(ctx, observability.MetricBudgetWarning, 1, map[string]string{
			"episode_id": w.EpisodeID,
			"stage":      w.Stage,
		}, time.Now())
	})
	return &call{
		ctx:    ctx,
		svc:    svc,
		state:  s,
		stage:  name,
		logger: logger,
		guard:  cost.NewGuard(svc.Ledger, s.EpisodeID, s.Config.BudgetUSD, mode, cost.WithLogger(logger), onWarn),
		dry:    s.Config.DryRun,
	}
}

// charge is what one adapter call cost.
type charge struct {
	provider  string
	model     string
	units     cost.Units
	quantity  int64
	usd       float64
	estimated bool
}

// record writes ch to the ledger and reports it. Dry runs record nothing.
func (c *call) record(ch charge) error {
	if c.dry {
		return nil
	}
	if _, err := c.svc.Ledger.Record(cost.Entry{
		EpisodeID: c.state.EpisodeID,
		Stage:     string(c.stage),
		Provider:  ch.provider,
		Model:     ch.model,
		Units:     ch.units,
		Quantity:  ch.quantity,
		CostUSD:   ch.usd,
		Estimated: ch.estimated,
	}); err != nil {
		return err
	}

	total := c.svc.Ledger.Total(c.state.EpisodeID)
	observability.LogCost(c.logger, c.state.EpisodeID, string(c.stage), ch.provider, ch.usd, total)
	c.svc.Sink.RecordCost(c.ctx, c.state.EpisodeID, string(c.stage), ch.usd, map[string]any{
		"provider":  ch.provider,
		"model":     ch.model,
		"estimated": ch.estimated,
	})
	now := time.Now()
	c.svc.Sink.RecordMetric(c.ctx, observability.MetricCostByStage, ch.usd, map[string]string{"stage": string(c.stage)}, now)
	c.svc.Sink.RecordMetric(c.ctx, observability.MetricTotalCost, total, map[string]string{"episode_id": c.state.EpisodeID}, now)
	return nil
}

// actual returns the post-call cost when the adapter reported usage and the
// pre-call estimate otherwise.
func actual(reported bool, usd, estimate float64) (float64, bool) {
	if reported || usd > 0 {
		return usd, false
	}
	return estimate, true
}

// invoke checks the budget for estimate, then runs op through the named
// handler under the wall budget. Every attempt gets its own span and at
// most CallTimeout. In dry runs op is called directly.
func invoke[T any](
	c *call,
	handler string,
	estimate float64,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (resilience.Result[T], error) {
	if c.dry {
		v, err := op(c.ctx)
		return resilience.Result[T]{Value: v}, err
	}

	if err := c.guard.Check(string(c.stage), estimate); err != nil {
		return resilience.Result[T]{}, err
	}

	ctx, cancel, err := c.bounded()
	if err != nil {
		return resilience.Result[T]{}, err
	}
	defer cancel()

	ctx, span := c.svc.Sink.StartSpan(ctx, "adapter."+handler, map[string]any{
		"episode_id":   c.state.EpisodeID,
		"stage":        string(c.stage),
		"handler":      handler,
		"estimate_usd": estimate,
	})

	attempt := 0
	res, err := resilience.DoWithFallback(ctx, c.svc.Handlers.Get(handler), func(ctx context.Context) (T, error) {
		attempt++
		actx, aspan := c.svc.Sink.StartSpan(ctx, "attempt."+handler, map[string]any{"attempt": attempt})
		actx, acancel := context.WithTimeout(actx, c.svc.CallTimeout)
		defer acancel()

		v, err := op(actx)
		if err != nil {
			c.svc.Sink.EndSpan(aspan, observability.OutcomeError, map[string]any{"error": err.Error()})
			return v, err
		}
		c.svc.Sink.EndSpan(aspan, observability.OutcomeOK, nil)
		return v, nil
	}, fallback)

	switch {
	case err != nil:
		c.svc.Sink.EndSpan(span, observability.OutcomeError, map[string]any{"error": err.Error(), "attempts": attempt})
	case res.Synthetic:
		c.svc.Sink.EndSpan(span, observability.OutcomeSynthetic, map[string]any{"attempts": attempt})
	default:
		c.svc.Sink.EndSpan(span, observability.OutcomeOK, map[string]any{"attempts": attempt})
	}
	return res, err
}

// bounded derives a context ending at the wall deadline, if one is set.
func (c *call) bounded() (context.Context, context.CancelFunc, error) {
	deadline, ok := WallDeadline(c.ctx)
	if !ok {
		ctx, cancel := context.WithCancel(c.ctx)
		return ctx, cancel, nil
	}
	if !time.Now().Before(deadline) {
		return nil, nil, ErrWallBudget
	}
	ctx, cancel := context.WithDeadline(c.ctx, deadline)
	return ctx, cancel, nil
}

func (c *call) researcher() provider.Researcher {
	if c.dry || c.svc.Researcher == nil {
		return provider.DryResearcher{}
	}
	return c.svc.Researcher
}

func (c *call) chatter() provider.Chatter {
	if c.dry || c.svc.Chatter == nil {
		return provider.DryChatter{}
	}
	return c.svc.Chatter
}

func (c *call) synthesizer() provider.Synthesizer {
	if c.dry || c.svc.Synthesizer == nil {
		return provider.DrySynthesizer{}
	}
	return c.svc.Synthesizer
}

func (c *call) scorer() quality.Scorer {
	if c.dry || c.svc.Scorer == nil {
		return quality.StaticScorer{Value: quality.MaxScore}
	}
	return c.svc.Scorer
}

// generate renders the named prompt and sends it to the chat adapter.
func (c *call) generate(prompt string, vars map[string]any, maxTokens int) (provider.ChatResult, error) {
	system, err := c.svc.Prompts.Render(PromptSystem, vars)
	if err != nil {
		return provider.ChatResult{}, err
	}
	user, err := c.svc.Prompts.Render(prompt, vars)
	if err != nil {
		return provider.ChatResult{}, err
	}

	chat := c.chatter()
	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{llm.UserMessage(user)},
		MaxTokens:    maxTokens,
		Timeout:      c.svc.CallTimeout,
	}
	estimate := chat.EstimateCost(req)

	res, err := invoke(c, HandlerChat, estimate, func(ctx context.Context) (provider.ChatResult, error) {
		return chat.Generate(ctx, req)
	}, nil)
	if err != nil {
		return provider.ChatResult{}, err
	}

	out := res.Value
	usd, estimated := actual(out.Usage.Reported(), out.CostUSD, estimate)
	if err := c.record(charge{
		provider:  chat.Name(),
		model:     out.Model,
		units:     cost.UnitsTokens,
		quantity:  int64(out.Usage.TotalTokens),
		usd:       usd,
		estimated: estimated,
	}); err != nil {
		return provider.ChatResult{}, err
	}
	out.CostUSD = usd
	return out, nil
}

// score rates text with the scorer and evaluates it against the episode's
// quality threshold. It also returns what scoring cost.
func (c *call) score(text string) (quality.Result, float64, error) {
	scorer := c.scorer()
	subj := quality.Subject{Stage: c.stage, Topic: c.state.Topic, Text: text}
	estimate := scorer.EstimateCost(subj)

	res, err := invoke(c, HandlerQuality, estimate, func(ctx context.Context) (quality.Score, error) {
		return scorer.Score(ctx, subj)
	}, nil)
	if err != nil {
		return quality.Result{}, 0, err
	}

	sc := res.Value
	usd, estimated := actual(false, sc.CostUSD, estimate)
	if err := c.record(charge{
		provider:  scorer.Name(),
		model:     sc.Model,
		units:     cost.UnitsRequests,
		quantity:  1,
		usd:       usd,
		estimated: estimated,
	}); err != nil {
		return quality.Result{}, 0, err
	}

	r := quality.NewGate(c.state.Config.QualityThreshold).Evaluate(sc)
	observability.LogQuality(c.logger, string(c.stage), r.Score, r.Threshold, r.Pass)
	c.svc.Sink.RecordMetric(c.ctx, observability.MetricQualityScore, r.Score, map[string]string{"stage": string(c.stage)}, time.Now())
	return r, usd, nil
}
