// Package pipeline wires the stages into the episode graph and runs it with
// checkpointing, resumption, and end-of-episode reports.
//
// The graph is:
//
//	research_discovery -> cost_check
//	cost_check -> research_deep_dive | error_handler | END
//	research_deep_dive -> ... -> writing -> polishing
//	polishing -> audio_generation | writing | quality_check
//	audio_generation -> quality_check -> END
//	error_handler -> END
//
// One episode runs strictly sequentially. Separate episodes may run
// concurrently on the same Engine; they share the adapters, the ledger
// (keyed by episode), and the breaker state of each named handler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/checkpoint"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
)

// ErrNoStore is returned by New without a checkpoint store.
var ErrNoStore = errors.New("pipeline: checkpoint store required")

// FailedError is returned when an episode ends in the error handler.
type FailedError struct {
	EpisodeID string
	Stage     episode.Stage
	Errors    []episode.ErrorRecord
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("episode %s failed at %s", e.EpisodeID, e.Stage)
	}
	last := e.Errors[len(e.Errors)-1]
	return fmt.Sprintf("episode %s failed at %s: %s", e.EpisodeID, e.Stage, last.Message)
}

// Engine runs episodes.
type Engine struct {
	stages *stages.Registry
	svc    *stages.Services
	store  *checkpoint.Store
	graph  *flowgraph.CompiledGraph[episode.State]
	logger *slog.Logger

	wall        time.Duration
	tracing     bool
	fatalSaves  bool
	handlerOpts []resilience.HandlerOption
	breakers    map[string]resilience.BreakerConfig
	policies    map[string]resilience.Policy
	extra       map[string][]resilience.HandlerOption
	replaced    []stages.Stage
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Services without a logger use it too.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWallBudget bounds how long one Run or Resume may spend in adapter
// calls. Zero means no bound.
func WithWallBudget(d time.Duration) Option {
	return func(e *Engine) {
		e.wall = d
	}
}

// WithTracing enables the graph's own OpenTelemetry run and node spans and
// metrics, alongside the stage spans reported to the sink.
func WithTracing(enabled bool) Option {
	return func(e *Engine) {
		e.tracing = enabled
	}
}

// WithCheckpointFailureFatal stops a run when a checkpoint cannot be saved.
func WithCheckpointFailureFatal(fatal bool) Option {
	return func(e *Engine) {
		e.fatalSaves = fatal
	}
}

// WithHandlerOptions applies opts to every adapter handler.
func WithHandlerOptions(opts ...resilience.HandlerOption) Option {
	return func(e *Engine) {
		e.handlerOpts = append(e.handlerOpts, opts...)
	}
}

// WithBreaker sets the breaker configuration of the named handler.
func WithBreaker(handler string, cfg resilience.BreakerConfig) Option {
	return func(e *Engine) {
		e.breakers[handler] = cfg
	}
}

// WithPolicy sets the retry policy of the named handler.
func WithPolicy(handler string, p resilience.Policy) Option {
	return func(e *Engine) {
		e.policies[handler] = p
	}
}

// WithHandler applies opts to the named handler only, after the shared
// handler options.
func WithHandler(handler string, opts ...resilience.HandlerOption) Option {
	return func(e *Engine) {
		e.extra[handler] = append(e.extra[handler], opts...)
	}
}

// WithStage replaces the built-in node of the same name.
func WithStage(st stages.Stage) Option {
	return func(e *Engine) {
		e.replaced = append(e.replaced, st)
	}
}

// Handlers lists the adapter handler names the engine configures.
func Handlers() []string {
	return []string{stages.HandlerResearch, stages.HandlerChat, stages.HandlerSpeech, stages.HandlerQuality}
}

// New builds an engine over svc and store. Handlers in svc are replaced by
// ones built from the engine options.
func New(svc stages.Services, store *checkpoint.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	e := &Engine{
		store:    store,
		logger:   slog.Default(),
		breakers: make(map[string]resilience.BreakerConfig),
		policies: make(map[string]resilience.Policy),
		extra:    make(map[string][]resilience.HandlerOption),
	}
	for _, opt := range opts {
		opt(e)
	}

	if svc.Logger == nil {
		svc.Logger = e.logger
	}
	svc.Sink = observability.Guard(svc.Sink, svc.Logger)
	svc.Handlers = e.buildHandlers(svc.Sink)

	e.stages = stages.NewRegistry(svc)
	for _, st := range e.replaced {
		e.stages.Register(st)
	}
	e.svc = e.stages.Services()

	graph, err := e.build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}
	e.graph = graph
	return e, nil
}

func (e *Engine) buildHandlers(sink observability.Sink) *resilience.Registry {
	defaults := append([]resilience.HandlerOption{
		resilience.WithLogger(e.logger),
		resilience.WithObserver(func(a resilience.Attempt) {
			if a.Attempt > 1 {
				sink.RecordMetric(context.Background(), observability.MetricRetryCount, 1,
					map[string]string{"handler": a.Handler}, time.Now())
			}
		}),
	}, e.handlerOpts...)
	reg := resilience.NewRegistry(defaults...)

	for _, name := range Handlers() {
		bc, ok := e.breakers[name]
		if !ok {
			bc = resilience.DefaultBreakerConfig()
		}
		user := bc.OnStateChange
		bc.OnStateChange = func(handler string, from, to resilience.State) {
			sink.RecordMetric(context.Background(), observability.MetricBreakerTransition, 1,
				map[string]string{"handler": handler, "from": from.String(), "to": to.String()}, time.Now())
			if user != nil {
				user(handler, from, to)
			}
		}

		hopts := []resilience.HandlerOption{resilience.WithBreakerConfig(bc)}
		if p, ok := e.policies[name]; ok {
			hopts = append(hopts, resilience.WithPolicy(p))
		}
		hopts = append(hopts, e.extra[name]...)
		reg.Configure(name, hopts...)
	}
	return reg
}

// order is the pipeline's node order, used for progress estimates.
func order() []string {
	return []string{
		string(episode.StageResearchDiscovery),
		string(episode.StageCostCheck),
		string(episode.StageResearchDeepDive),
		string(episode.StageResearchValidation),
		string(episode.StageResearchSynthesis),
		string(episode.StageQuestionGeneration),
		string(episode.StagePlanning),
		string(episode.StageWriting),
		string(episode.StagePolishing),
		string(episode.StageAudioGeneration),
		string(episode.StageQualityCheck),
	}
}

func (e *Engine) build() (*flowgraph.CompiledGraph[episode.State], error) {
	g := flowgraph.NewGraph[episode.State]()
	for _, name := range e.stages.Names() {
		st := e.stages.MustGet(name)
		g.AddNode(string(name), st.Run)
	}

	node := func(s episode.Stage) string { return string(s) }
	g.AddEdge(node(episode.StageResearchDiscovery), node(episode.StageCostCheck))
	g.AddConditionalEdge(node(episode.StageCostCheck), routeCost,
		node(episode.StageResearchDeepDive), node(episode.StageErrorHandler), flowgraph.END)

	linear := []episode.Stage{
		episode.StageResearchDeepDive,
		episode.StageResearchValidation,
		episode.StageResearchSynthesis,
		episode.StageQuestionGeneration,
		episode.StagePlanning,
		episode.StageWriting,
		episode.StagePolishing,
	}
	for i := 0; i+1 < len(linear); i++ {
		g.AddEdge(node(linear[i]), node(linear[i+1]))
	}

	g.AddConditionalEdge(node(episode.StagePolishing), routePolish,
		node(episode.StageAudioGeneration), node(episode.StageWriting), node(episode.StageQualityCheck))
	g.AddEdge(node(episode.StageAudioGeneration), node(episode.StageQualityCheck))
	g.AddEdge(node(episode.StageQualityCheck), flowgraph.END)
	g.AddEdge(node(episode.StageErrorHandler), flowgraph.END)
	g.SetEntry(node(episode.StageResearchDiscovery))

	return g.Compile()
}

func routeCost(_ flowgraph.Context, s episode.State) string {
	switch quality.DecideCost(s) {
	case quality.CostOverBudget, quality.CostErrors:
		return string(episode.StageErrorHandler)
	case quality.CostComplete:
		return flowgraph.END
	default:
		return string(episode.StageResearchDeepDive)
	}
}

func routePolish(_ flowgraph.Context, s episode.State) string {
	p := s.StageOutputs.Polished
	if p == nil {
		return string(episode.StageQualityCheck)
	}
	switch p.Decision {
	case episode.DecisionGenerateAudio:
		return string(episode.StageAudioGeneration)
	case episode.DecisionRetryWriting:
		return string(episode.StageWriting)
	default:
		return string(episode.StageQualityCheck)
	}
}

// resumePoint returns the node after s.CurrentStage, for records that
// carry no next node.
func resumePoint(s episode.State) string {
	switch s.CurrentStage {
	case episode.StageInitialized, "":
		return string(episode.StageResearchDiscovery)
	case episode.StageResearchDiscovery:
		return string(episode.StageCostCheck)
	case episode.StageCostCheck:
		return routeCost(nil, s)
	case episode.StagePolishing:
		return routePolish(nil, s)
	case episode.StageQualityCheck, episode.StageCompleted, episode.StageFailed, episode.StageErrorHandler:
		return flowgraph.END
	}
	all := episode.Stages()
	if i := s.CurrentStage.Index(); i >= 0 && i+1 < len(all) {
		return string(all[i+1])
	}
	return flowgraph.END
}

// Services returns the services the engine's stages share.
func (e *Engine) Services() *stages.Services { return e.svc }

// Check reports adapters missing for each node.
func (e *Engine) Check() map[episode.Stage]error { return e.stages.Check() }

// Run creates an episode for topic and runs it to the end.
func (e *Engine) Run(ctx context.Context, topic string, cfg episode.Config) (episode.State, error) {
	s, err := episode.New(topic, cfg)
	if err != nil {
		return s, err
	}
	e.logger.Info("episode started",
		"episode_id", s.EpisodeID,
		"topic", s.Topic,
		"budget_usd", cfg.BudgetUSD,
		"dry_run", cfg.DryRun,
	)

	cp := &checkpointer{store: e.store, ledger: e.svc.Ledger, logger: e.logger}
	fctx := e.context(ctx, s.EpisodeID, 1)
	out, err := e.graph.Run(fctx, s, e.runOptions(s.EpisodeID, cp)...)
	return e.finish(out, err)
}

// Resume continues the episode saved under episodeID from its last
// checkpoint. The ledger is restored from the saved snapshot.
func (e *Engine) Resume(ctx context.Context, episodeID string) (episode.State, error) {
	rec, err := e.store.Load(episodeID)
	if err != nil {
		return episode.State{}, err
	}
	attempt := rec.Metadata.RecoveryAttempts + 2
	e.logger.Info("episode resuming",
		"episode_id", episodeID,
		"next_node", rec.Metadata.NextNode,
		"attempt", attempt,
	)

	cp := &checkpointer{store: e.store, ledger: e.svc.Ledger, logger: e.logger}
	fctx := e.context(ctx, episodeID, attempt)
	out, err := e.graph.Resume(fctx, episodeID, e.runOptions(episodeID, cp)...)
	if out.EpisodeID == "" {
		return out, err
	}
	return e.finish(out, err)
}

// Load returns the migrated state and metadata saved for episodeID.
func (e *Engine) Load(episodeID string) (episode.State, checkpoint.Metadata, error) {
	rec, err := e.store.Load(episodeID)
	if err != nil {
		return episode.State{}, checkpoint.Metadata{}, err
	}
	s, err := episode.Unmarshal(rec.State)
	if err != nil {
		return episode.State{}, rec.Metadata, err
	}
	return s, rec.Metadata, nil
}

// ListRecoverable returns episodes that can be resumed.
func (e *Engine) ListRecoverable() ([]checkpoint.Metadata, error) {
	return e.store.ListRecoverable()
}

// List returns every stored episode.
func (e *Engine) List() ([]checkpoint.Metadata, error) {
	return e.store.List()
}

// Cleanup removes checkpoints last saved more than olderThan ago.
func (e *Engine) Cleanup(olderThan time.Duration) (int, error) {
	return e.store.Cleanup(olderThan)
}

func (e *Engine) context(ctx context.Context, episodeID string, attempt int) flowgraph.Context {
	if e.wall > 0 {
		ctx = stages.WithWallDeadline(ctx, time.Now().Add(e.wall))
	}
	return flowgraph.NewContext(ctx,
		flowgraph.WithLogger(e.logger),
		flowgraph.WithContextRunID(episodeID),
		flowgraph.WithAttempt(attempt),
	)
}

func (e *Engine) runOptions(episodeID string, cp flowgraph.Checkpointer) []flowgraph.RunOption {
	return []flowgraph.RunOption{
		flowgraph.WithRunID(episodeID),
		flowgraph.WithCheckpointer(cp),
		flowgraph.WithCheckpointFailureFatal(e.fatalSaves),
		flowgraph.WithProgressEstimator(flowgraph.LinearProgress(order()...)),
		flowgraph.WithObservabilityLogger(e.logger),
		flowgraph.WithTracing(e.tracing),
		flowgraph.WithMetrics(e.tracing),
	}
}

// finish writes the episode's reports and turns a failed ending into an
// error.
func (e *Engine) finish(s episode.State, runErr error) (episode.State, error) {
	logger := e.logger.With("episode_id", s.EpisodeID)

	if err := writeCostReport(s, e.svc.Ledger); err != nil {
		logger.Warn("write cost report failed", "error", err)
	}

	failed := s.CurrentStage == episode.StageFailed
	if runErr == nil && !failed {
		logger.Info("episode finished",
			"cost_usd", e.svc.Ledger.Total(s.EpisodeID),
			"passed", s.StageOutputs.Quality != nil && s.StageOutputs.Quality.Passed,
		)
		return s, nil
	}

	stage := failedStage(s, runErr)
	if err := writeErrorReport(s, e.svc.Ledger, stage, runErr); err != nil {
		logger.Warn("write error report failed", "error", err)
	}
	if runErr == nil {
		runErr = &FailedError{EpisodeID: s.EpisodeID, Stage: stage, Errors: s.UnresolvedErrors()}
	}
	logger.Error("episode failed", "stage", string(stage), "error", runErr)
	return s, runErr
}

// failedStage names the node an episode stopped at.
func failedStage(s episode.State, err error) episode.Stage {
	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
		return episode.Stage(nodeErr.NodeID)
	}
	var cancelErr *flowgraph.CancellationError
	if errors.As(err, &cancelErr) {
		return episode.Stage(cancelErr.NodeID)
	}
	if open := s.UnresolvedErrors(); len(open) > 0 {
		return open[len(open)-1].Stage
	}
	if s.CurrentStage == episode.StageFailed {
		// Only the cost gate reaches the error handler without errors.
		return episode.StageCostCheck
	}
	return s.CurrentStage
}
