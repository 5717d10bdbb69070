// Package stages implements the pipeline's nodes: the ten production stages
// plus the cost_check and error_handler control nodes.
//
// Every stage has the same shape. It reads earlier outputs from the state,
// calls adapters through a named resilience.Handler, records what each call
// cost, and on success stores exactly one output under its own name. A
// repeat run replaces that output. On failure the stage appends an error
// record, counts a retry, and returns the error for the engine to handle.
//
// When the episode's config has DryRun set, adapters are swapped for the
// zero-cost dry implementations and no handler, budget check, or ledger
// entry is involved.
package stages

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/template"
)

// Handler names. Breaker state is shared by every call using the same name.
const (
	HandlerResearch = "research"
	HandlerChat     = "chat"
	HandlerSpeech   = "tts"
	HandlerQuality  = "quality"
)

// Defaults applied by Services.WithDefaults.
const (
	DefaultConcurrency = 3
	DefaultQueries     = 3
	DefaultCallTimeout = 2 * time.Minute
)

// ErrNotConfigured is returned by Ready when a stage lacks an adapter.
var ErrNotConfigured = errors.New("adapter not configured")

// Services carries everything stages need. It is built once per engine and
// shared by every episode that engine runs.
type Services struct {
	Researcher  provider.Researcher
	Chatter     provider.Chatter
	Synthesizer provider.Synthesizer
	Scorer      quality.Scorer

	Ledger   *cost.Ledger
	Handlers *resilience.Registry
	Sink     observability.Sink
	Prompts  *template.Set
	Logger   *slog.Logger

	// Concurrency bounds the concurrent calls one stage makes.
	Concurrency int
	// Queries is the number of research queries per research stage.
	Queries int
	// CallTimeout bounds a single adapter attempt.
	CallTimeout time.Duration
}

// WithDefaults fills unset fields.
func (s Services) WithDefaults() Services {
	if s.Ledger == nil {
		s.Ledger = cost.NewLedger()
	}
	if s.Handlers == nil {
		s.Handlers = resilience.NewRegistry()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Sink == nil {
		s.Sink = observability.NoopSink{}
	}
	s.Sink = observability.Guard(s.Sink, s.Logger)
	if s.Prompts == nil {
		s.Prompts = DefaultPrompts()
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.Queries <= 0 {
		s.Queries = DefaultQueries
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	return s
}

// Stage is one node of the pipeline.
type Stage interface {
	// Name is the node identifier and the key of the stage's output.
	Name() episode.Stage

	// Ready reports whether the adapters the stage calls are configured.
	Ready() error

	// Run executes the stage against s and returns the evolved state. On
	// error the returned state carries the recorded error.
	Run(ctx flowgraph.Context, s episode.State) (episode.State, error)
}

type capability int

const (
	needsResearch capability = 1 << iota
	needsChat
	needsSpeech
	needsScorer
)

// stage is the shared Stage implementation. body produces the output; the
// optional after hook adjusts the state once the output is stored.
type stage struct {
	name  episode.Stage
	next  episode.Stage
	needs capability
	svc   *Services
	body  func(c *call, s episode.State) (episode.Output, error)
	after func(s episode.State) (episode.State, error)
}

func (st *stage) Name() episode.Stage { return st.name }

func (st *stage) Ready() error {
	var missing []error
	check := func(c capability, ok bool, what string) {
		if st.needs&c != 0 && !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrNotConfigured, what))
		}
	}
	check(needsResearch, st.svc.Researcher != nil, "researcher")
	check(needsChat, st.svc.Chatter != nil, "chatter")
	check(needsSpeech, st.svc.Synthesizer != nil, "synthesizer")
	check(needsScorer, st.svc.Scorer != nil, "scorer")
	return errors.Join(missing...)
}

func (st *stage) Run(ctx flowgraph.Context, s episode.State) (episode.State, error) {
	svc := st.svc
	logger := ctx.Logger().With("episode_id", s.EpisodeID, "stage", string(st.name))
	tags := map[string]string{"stage": string(st.name)}

	spanCtx, span := svc.Sink.StartSpan(ctx, "stage."+string(st.name), map[string]any{
		"episode_id": s.EpisodeID,
		"stage":      string(st.name),
		"attempt":    ctx.Attempt(),
		"dry_run":    s.Config.DryRun,
	})
	elapsed := observability.TimedOperation()
	c := newCall(spanCtx, svc, s, st.name, logger)

	out, err := st.body(c, s)
	if err == nil {
		var next episode.State
		next, err = s.UpdateStage(st.next, out)
		if err == nil && st.after != nil {
			next, err = st.after(next)
		}
		if err == nil {
			s = next
		}
	}
	svc.Sink.RecordMetric(ctx, observability.MetricStageDuration, elapsed(), tags, time.Now())

	if err != nil {
		svc.Sink.EndSpan(span, observability.OutcomeError, map[string]any{"error": err.Error()})
		return st.fail(s, err)
	}

	s = s.RecordCostSnapshot(svc.Ledger)
	outcome := observability.OutcomeOK
	if syn, ok := out.(interface{ Synthetic() bool }); ok && syn.Synthetic() {
		outcome = observability.OutcomeSynthetic
	}
	svc.Sink.EndSpan(span, outcome, map[string]any{"cost_usd": s.TotalCost()})
	return s, nil
}

// fail records cause against the stage and counts a retry. A stage that has
// used every retry reports both errors.
func (st *stage) fail(s episode.State, cause error) (episode.State, error) {
	kind := fgerrors.Classify(cause)
	s = s.AddError(st.name, kind.String(), cause.Error()).RecordCostSnapshot(st.svc.Ledger)

	next, rerr := s.IncrementRetry(st.name)
	if rerr != nil {
		return s, fmt.Errorf("stage %s: %w: %w", st.name, cause, rerr)
	}
	return next, fmt.Errorf("stage %s: %w", st.name, cause)
}

// missingInput reports an earlier stage's output that a stage depends on.
func missingInput(from episode.Stage) error {
	return &fgerrors.ValidationError{Field: string(from), Message: "output missing"}
}
