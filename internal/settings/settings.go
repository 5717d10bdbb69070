// Package settings loads the pipeline's configuration from a YAML, JSON or
// TOML file and PODCAST_ environment variables, and validates it once.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/sanitize"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/config"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
)

// EnvPrefix prefixes environment overrides. Nested keys use "__", so
// PODCAST_OBSERVABILITY__ENABLED sets observability.enabled.
const EnvPrefix = "PODCAST_"

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var (
	backends    = []string{BackendFile, BackendSQLite, BackendBadger, BackendMemory}
	verbosities = []string{"debug", "info", "warn", "error"}
)

// Provider holds one external service's endpoint and credentials.
type Provider struct {
	Endpoint string
	APIKey   string
	Model    string
}

// Configured reports whether an API key is set.
func (p Provider) Configured() bool { return p.APIKey != "" }

// Handler holds retry and breaker knobs for one adapter handler. Zero
// fields keep the library defaults.
type Handler struct {
	MaxAttempts      int
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	RateFloor        time.Duration
}

// Policy returns the retry policy, and false when none is configured.
func (h Handler) Policy() (resilience.Policy, bool) {
	if h.MaxAttempts <= 0 {
		return resilience.Policy{}, false
	}
	return resilience.NewPolicy(resilience.WithMaxAttempts(h.MaxAttempts)), true
}

// Breaker returns the breaker configuration.
func (h Handler) Breaker() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig()
	if h.FailureThreshold > 0 {
		cfg.FailureThreshold = h.FailureThreshold
	}
	if h.SuccessThreshold > 0 {
		cfg.SuccessThreshold = h.SuccessThreshold
	}
	if h.RecoveryTimeout > 0 {
		cfg.RecoveryTimeout = h.RecoveryTimeout
	}
	return cfg
}

// Settings is the validated configuration of one process.
type Settings struct {
	BudgetUSD           float64
	Enforcement         string
	QualityThreshold    float64
	MaxWriteRetries     int
	MaxStageRetries     int
	MaxRecoveryAttempts int
	TargetMinutes       float64
	OutputDir           string
	DryRun              bool
	Verbosity           string
	VoiceID             string

	CheckpointBackend   string
	CheckpointDir       string
	CheckpointRetention time.Duration

	Observability bool

	Concurrency int
	Queries     int
	CallTimeout time.Duration
	WallBudget  time.Duration

	Research Provider
	Chat     Provider
	Speech   Provider

	// Handlers is keyed by handler name: research, chat, tts, quality.
	Handlers map[string]Handler
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	ep := episode.DefaultConfig()
	return Settings{
		BudgetUSD:           ep.BudgetUSD,
		Enforcement:         ep.Enforcement,
		QualityThreshold:    ep.QualityThreshold,
		MaxWriteRetries:     ep.MaxWriteRetries,
		MaxStageRetries:     ep.MaxStageRetries,
		MaxRecoveryAttempts: ep.MaxRecoveryAttempts,
		TargetMinutes:       ep.TargetMinutes,
		OutputDir:           ep.OutputDir,
		Verbosity:           ep.Verbosity,

		CheckpointBackend:   BackendFile,
		CheckpointDir:       "checkpoints",
		CheckpointRetention: 24 * time.Hour,

		Concurrency: 3,
		Queries:     3,
		CallTimeout: 2 * time.Minute,

		Research: Provider{Endpoint: "https://api.perplexity.ai", Model: "sonar"},
		Chat:     Provider{Endpoint: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		Speech:   Provider{Endpoint: "https://api.elevenlabs.io/v1", Model: "eleven_multilingual_v2"},

		Handlers: map[string]Handler{},
	}
}

// Load reads path, if given, applies environment overrides from environ,
// and validates the result.
func Load(path string, environ []string) (Settings, error) {
	cfg := config.New(nil)
	if path != "" {
		fileCfg, err := config.FromFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("load settings: %w", err)
		}
		cfg = fileCfg
	}
	cfg = cfg.Merge(config.FromEnv(EnvPrefix, environ))

	s := FromConfig(cfg)
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// FromConfig reads settings from cfg over the defaults. It does not
// validate.
func FromConfig(cfg config.Config) Settings {
	d := Default()
	retention := cfg.Int("checkpoint_retention_hours", int(d.CheckpointRetention/time.Hour))
	s := Settings{
		BudgetUSD:           cfg.Float("budget_usd", d.BudgetUSD),
		Enforcement:         strings.ToLower(cfg.String("enforcement", d.Enforcement)),
		QualityThreshold:    cfg.Float("quality_threshold", d.QualityThreshold),
		MaxWriteRetries:     cfg.Int("max_write_retries", d.MaxWriteRetries),
		MaxStageRetries:     cfg.Int("max_stage_retries", d.MaxStageRetries),
		MaxRecoveryAttempts: cfg.Int("max_recovery_attempts", d.MaxRecoveryAttempts),
		TargetMinutes:       cfg.Float("target_minutes", d.TargetMinutes),
		OutputDir:           cfg.String("output_dir", d.OutputDir),
		DryRun:              cfg.Bool("dry_run", d.DryRun),
		Verbosity:           strings.ToLower(cfg.String("verbosity", d.Verbosity)),
		VoiceID:             cfg.String("voice_id", d.VoiceID),

		CheckpointBackend:   strings.ToLower(cfg.String("checkpoint_backend", d.CheckpointBackend)),
		CheckpointDir:       cfg.String("checkpoint_dir", d.CheckpointDir),
		CheckpointRetention: time.Duration(retention) * time.Hour,

		Observability: cfg.Bool("observability.enabled", d.Observability),

		Concurrency: cfg.Int("stages.concurrency", d.Concurrency),
		Queries:     cfg.Int("stages.queries", d.Queries),
		CallTimeout: cfg.Duration("stages.call_timeout", d.CallTimeout),
		WallBudget:  cfg.Duration("wall_budget", d.WallBudget),

		Research: provider(cfg.Sub("providers.research"), d.Research),
		Chat:     provider(cfg.Sub("providers.chat"), d.Chat),
		Speech:   provider(cfg.Sub("providers.speech"), d.Speech),

		Handlers: map[string]Handler{},
	}

	handlers := cfg.Sub("handlers")
	for _, name := range handlers.Keys() {
		h := handlers.Sub(name)
		s.Handlers[name] = Handler{
			MaxAttempts:      h.Int("max_attempts", 0),
			FailureThreshold: h.Int("failure_threshold", 0),
			SuccessThreshold: h.Int("success_threshold", 0),
			RecoveryTimeout:  h.Duration("recovery_timeout", 0),
			RateFloor:        h.Duration("rate_floor", 0),
		}
	}
	return s
}

func provider(cfg config.Config, d Provider) Provider {
	return Provider{
		Endpoint: cfg.String("endpoint", d.Endpoint),
		APIKey:   cfg.String("api_key", d.APIKey),
		Model:    cfg.String("model", d.Model),
	}
}

// Validate returns every problem with s joined into one error. Each
// problem is a *errors.ValidationError.
func (s Settings) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &fgerrors.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.BudgetUSD <= 0 {
		bad("budget_usd", "must be positive, got %v", s.BudgetUSD)
	}
	if _, err := cost.ParseMode(s.Enforcement); err != nil {
		bad("enforcement", "%v", err)
	}
	if s.QualityThreshold < 0 || s.QualityThreshold > 10 {
		bad("quality_threshold", "must be within [0, 10], got %v", s.QualityThreshold)
	}
	if s.MaxWriteRetries < 0 {
		bad("max_write_retries", "must not be negative")
	}
	if s.MaxStageRetries < 0 {
		bad("max_stage_retries", "must not be negative")
	}
	if s.MaxRecoveryAttempts < 1 {
		bad("max_recovery_attempts", "must be at least 1")
	}
	if s.TargetMinutes <= 0 {
		bad("target_minutes", "must be positive")
	}
	if strings.TrimSpace(s.OutputDir) == "" {
		bad("output_dir", "is required")
	}
	if !slices.Contains(verbosities, s.Verbosity) {
		bad("verbosity", "must be one of %s", strings.Join(verbosities, ", "))
	}
	if !slices.Contains(backends, s.CheckpointBackend) {
		bad("checkpoint_backend", "must be one of %s", strings.Join(backends, ", "))
	}
	if s.CheckpointBackend != BackendMemory && strings.TrimSpace(s.CheckpointDir) == "" {
		bad("checkpoint_dir", "is required")
	}
	if s.CheckpointRetention <= 0 {
		bad("checkpoint_retention_hours", "must be positive")
	}
	if s.Concurrency < 1 {
		bad("stages.concurrency", "must be at least 1")
	}
	if s.Queries < 1 {
		bad("stages.queries", "must be at least 1")
	}
	if s.CallTimeout <= 0 {
		bad("stages.call_timeout", "must be positive")
	}
	if s.WallBudget < 0 {
		bad("wall_budget", "must not be negative")
	}
	for name, h := range s.Handlers {
		if h.MaxAttempts < 0 || h.FailureThreshold < 0 || h.SuccessThreshold < 0 || h.RecoveryTimeout < 0 || h.RateFloor < 0 {
			bad("handlers."+name, "knobs must not be negative")
		}
	}
	return errors.Join(errs...)
}

// Episode returns the per-episode configuration embedded in new states.
func (s Settings) Episode() episode.Config {
	return episode.Config{
		BudgetUSD:           s.BudgetUSD,
		Enforcement:         s.Enforcement,
		QualityThreshold:    s.QualityThreshold,
		MaxWriteRetries:     s.MaxWriteRetries,
		MaxStageRetries:     s.MaxStageRetries,
		MaxRecoveryAttempts: s.MaxRecoveryAttempts,
		TargetMinutes:       s.TargetMinutes,
		OutputDir:           s.OutputDir,
		DryRun:              s.DryRun,
		Verbosity:           s.Verbosity,
		VoiceID:             s.VoiceID,
	}
}

// Level maps the verbosity to a log level.
func (s Settings) Level() slog.Level {
	switch s.Verbosity {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HandlerOptions returns the rate floor options for the named handler.
func (s Settings) HandlerOptions(name string) []resilience.HandlerOption {
	h, ok := s.Handlers[name]
	if !ok || h.RateFloor <= 0 {
		return nil
	}
	return []resilience.HandlerOption{resilience.WithRateFloor(h.RateFloor)}
}

// CheckpointPath returns where the primary backend keeps its data.
func (s Settings) CheckpointPath() string {
	switch s.CheckpointBackend {
	case BackendSQLite:
		return filepath.Join(s.CheckpointDir, "checkpoints.db")
	case BackendBadger:
		return filepath.Join(s.CheckpointDir, "badger")
	default:
		return s.CheckpointDir
	}
}

// LogValue implements slog.LogValuer with credentials masked.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("budget_usd", s.BudgetUSD),
		slog.String("enforcement", s.Enforcement),
		slog.Float64("quality_threshold", s.QualityThreshold),
		slog.Bool("dry_run", s.DryRun),
		slog.String("output_dir", s.OutputDir),
		slog.String("checkpoint_backend", s.CheckpointBackend),
		slog.String("checkpoint_dir", s.CheckpointDir),
		slog.Bool("observability", s.Observability),
		slog.String("research_key", sanitize.MaskSecret(s.Research.APIKey, 4)),
		slog.String("chat_key", sanitize.MaskSecret(s.Chat.APIKey, 4)),
		slog.String("speech_key", sanitize.MaskSecret(s.Speech.APIKey, 4)),
	)
}
