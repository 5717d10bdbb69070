package episode

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/sanitize"
)

// SchemaVersion is the version written by this package.
const SchemaVersion = "2.0.0"

// Errors returned by state operations.
var (
	ErrInvalidStage     = errors.New("invalid stage")
	ErrUnsupportedPatch = errors.New("output has no stage slot")
)

// RetryLimitError is returned when a stage has used all of its retries.
type RetryLimitError struct {
	Stage Stage
	Limit int
}

// Error implements the error interface.
func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("stage %s exhausted its %d retries", e.Stage, e.Limit)
}

// Config is the per-episode configuration carried inside the state.
type Config struct {
	BudgetUSD           float64 `json:"budget_usd"`
	Enforcement         string  `json:"enforcement"`
	QualityThreshold    float64 `json:"quality_threshold"`
	MaxWriteRetries     int     `json:"max_write_retries"`
	MaxStageRetries     int     `json:"max_stage_retries"`
	MaxRecoveryAttempts int     `json:"max_recovery_attempts"`
	TargetMinutes       float64 `json:"target_minutes"`
	OutputDir           string  `json:"output_dir"`
	DryRun              bool    `json:"dry_run"`
	Verbosity           string  `json:"verbosity"`
	VoiceID             string  `json:"voice_id"`
}

// DefaultConfig returns the standard episode configuration.
func DefaultConfig() Config {
	return Config{
		BudgetUSD:           5.51,
		Enforcement:         "strict",
		QualityThreshold:    8.0,
		MaxWriteRetries:     2,
		MaxStageRetries:     2,
		MaxRecoveryAttempts: 3,
		TargetMinutes:       15,
		OutputDir:           "output",
		Verbosity:           "info",
	}
}

// ErrorRecord is one failure recorded against a stage.
type ErrorRecord struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`

	// Resolved is set once the stage later completes.
	Resolved bool `json:"resolved"`
}

// State is the record of one episode's progress.
type State struct {
	SchemaVersion string        `json:"schema_version"`
	EpisodeID     string        `json:"episode_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Topic         string        `json:"topic"`
	Config        Config        `json:"config"`
	CurrentStage  Stage         `json:"current_stage"`
	StageOutputs  Outputs       `json:"stage_outputs"`
	CostLedger    cost.Snapshot `json:"cost_ledger_snapshot"`
	Errors        []ErrorRecord `json:"errors"`
	RetryCounters map[Stage]int `json:"retry_counters"`
	Completions   map[Stage]int `json:"completions"`
	Feedback      []string      `json:"feedback"`
}

// now is the clock used for timestamps.
var now = time.Now

func timestamp() time.Time {
	return now().UTC().Truncate(time.Microsecond)
}

// NewEpisodeID returns a fresh episode identifier.
func NewEpisodeID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("ep_%s_%s", now().UTC().Format("20060102"), id[:12])
}

// New sanitizes topic and creates an initialized state for it.
func New(topic string, cfg Config) (State, error) {
	clean, err := sanitize.Topic(topic, sanitize.DefaultTopicLength)
	if err != nil {
		return State{}, err
	}
	id := NewEpisodeID()
	ts := timestamp()
	return State{
		SchemaVersion: SchemaVersion,
		EpisodeID:     id,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		Topic:         clean,
		Config:        cfg,
		CurrentStage:  StageInitialized,
		CostLedger:    cost.Snapshot{EpisodeID: id, Entries: []cost.Entry{}, ByStage: map[string]float64{}},
		Errors:        []ErrorRecord{},
		RetryCounters: map[Stage]int{},
		Completions:   map[Stage]int{},
		Feedback:      []string{},
	}, nil
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.CostLedger = s.CostLedger.Clone()
	out.Errors = slices.Clone(s.Errors)
	out.RetryCounters = maps.Clone(s.RetryCounters)
	out.Completions = maps.Clone(s.Completions)
	out.Feedback = slices.Clone(s.Feedback)
	return out
}

// touch advances UpdatedAt, keeping it strictly increasing.
func (s *State) touch() {
	ts := timestamp()
	if !ts.After(s.UpdatedAt) {
		ts = s.UpdatedAt.Add(time.Microsecond)
	}
	s.UpdatedAt = ts
}

// UpdateStage moves the state to next. A non-nil patch is stored as its
// stage's output, counts as a completion of that stage, and resolves that
// stage's outstanding errors.
func (s State) UpdateStage(next Stage, patch Output) (State, error) {
	if !next.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidStage, next)
	}
	out := s.Clone()

	if patch != nil {
		outputs, ok := out.StageOutputs.with(patch)
		if !ok {
			return s, fmt.Errorf("%w: %T", ErrUnsupportedPatch, patch)
		}
		out.StageOutputs = outputs

		done := patch.Stage()
		if out.Completions == nil {
			out.Completions = map[Stage]int{}
		}
		out.Completions[done]++
		for i := range out.Errors {
			if out.Errors[i].Stage == done {
				out.Errors[i].Resolved = true
			}
		}
	}

	out.CurrentStage = next
	out.touch()
	return out, nil
}

// AddError appends an error record for stage.
func (s State) AddError(stage Stage, kind, message string) State {
	out := s.Clone()
	out.Errors = append(out.Errors, ErrorRecord{
		Stage:     stage,
		Timestamp: timestamp(),
		Kind:      kind,
		Message:   message,
	})
	out.touch()
	return out
}

// MaxRetries returns the retry limit for stage.
func (s State) MaxRetries(stage Stage) int {
	if stage == StageWriting {
		return s.Config.MaxWriteRetries
	}
	return s.Config.MaxStageRetries
}

// IncrementRetry counts one more retry of stage. It returns a
// *RetryLimitError, and the state unchanged, once the limit is reached.
func (s State) IncrementRetry(stage Stage) (State, error) {
	limit := s.MaxRetries(stage)
	if s.RetryCounters[stage] >= limit {
		return s, &RetryLimitError{Stage: stage, Limit: limit}
	}
	out := s.Clone()
	if out.RetryCounters == nil {
		out.RetryCounters = map[Stage]int{}
	}
	out.RetryCounters[stage]++
	out.touch()
	return out, nil
}

// WithFeedback replaces the advice handed to the next writing attempt.
func (s State) WithFeedback(advice []string) State {
	out := s.Clone()
	out.Feedback = slices.Clone(advice)
	if out.Feedback == nil {
		out.Feedback = []string{}
	}
	out.touch()
	return out
}

// WithLedger stores a ledger snapshot.
func (s State) WithLedger(snap cost.Snapshot) State {
	out := s.Clone()
	out.CostLedger = snap.Clone()
	out.touch()
	return out
}

// RecordCostSnapshot replaces the stored snapshot with the ledger's
// current view of this episode.
func (s State) RecordCostSnapshot(l *cost.Ledger) State {
	return s.WithLedger(l.Snapshot(s.EpisodeID))
}

// UnresolvedErrors returns errors whose stage has not since completed.
func (s State) UnresolvedErrors() []ErrorRecord {
	var out []ErrorRecord
	for _, e := range s.Errors {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

// TotalCost returns the spend recorded in the ledger snapshot.
func (s State) TotalCost() float64 {
	return s.CostLedger.TotalUSD
}
