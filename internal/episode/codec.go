package episode

import (
	"encoding/json"
	"fmt"

	version "github.com/hashicorp/go-version"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// Marshal encodes a state.
func Marshal(s State) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes and migrates a state. Any failure is state corruption.
func Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fgerrors.Corrupt(err, "decode episode state")
	}
	return Migrate(s)
}

type migration struct {
	to    string
	apply func(State) State
}

// migrations are applied in order to any state older than their target.
var migrations = []migration{
	{
		// 1.1.0 introduced updated_at and retry counters.
		to: "1.1.0",
		apply: func(s State) State {
			if s.UpdatedAt.IsZero() {
				s.UpdatedAt = s.CreatedAt
			}
			if s.RetryCounters == nil {
				s.RetryCounters = map[Stage]int{}
			}
			return s
		},
	},
	{
		// 2.0.0 added enforcement modes, completions, and feedback.
		to: "2.0.0",
		apply: func(s State) State {
			if s.Config.Enforcement == "" {
				s.Config.Enforcement = string(cost.ModeStrict)
			}
			if s.CurrentStage == "" {
				s.CurrentStage = StageInitialized
			}
			if s.Errors == nil {
				s.Errors = []ErrorRecord{}
			}
			if s.Feedback == nil {
				s.Feedback = []string{}
			}
			if s.Completions == nil {
				s.Completions = map[Stage]int{}
				for _, st := range s.StageOutputs.Completed() {
					s.Completions[st] = 1
				}
			}
			if s.CostLedger.EpisodeID == "" {
				s.CostLedger.EpisodeID = s.EpisodeID
			}
			if s.CostLedger.Entries == nil {
				s.CostLedger.Entries = []cost.Entry{}
			}
			if s.CostLedger.ByStage == nil {
				s.CostLedger.ByStage = map[string]float64{}
			}
			return s
		},
	},
}

// Migrate upgrades s to SchemaVersion. It is idempotent; a state from a
// newer or unparseable version is state corruption.
func Migrate(s State) (State, error) {
	current := version.Must(version.NewVersion(SchemaVersion))

	raw := s.SchemaVersion
	if raw == "" {
		raw = "1.0.0"
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return State{}, fgerrors.Corrupt(err, "parse schema version")
	}
	if v.GreaterThan(current) {
		return State{}, fgerrors.Corrupt(
			fmt.Errorf("schema version %s is newer than supported %s", v, current), "migrate episode state")
	}

	out := s.Clone()
	for _, m := range migrations {
		if v.LessThan(version.Must(version.NewVersion(m.to))) {
			out = m.apply(out)
		}
	}
	out.SchemaVersion = SchemaVersion
	return out, nil
}

// Violation is one failed invariant.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Validate checks the state's invariants and returns every violation.
func Validate(s State) []Violation {
	var out []Violation
	add := func(field, format string, args ...any) {
		out = append(out, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.EpisodeID == "" {
		add("episode_id", "is empty")
	}
	if s.SchemaVersion != SchemaVersion {
		add("schema_version", "is %q, want %q", s.SchemaVersion, SchemaVersion)
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		add("updated_at", "precedes created_at")
	}
	if !s.CurrentStage.Valid() {
		add("current_stage", "%q is not a known stage", s.CurrentStage)
	}
	if s.Config.BudgetUSD <= 0 {
		add("config.budget_usd", "must be positive")
	}
	if _, err := cost.ParseMode(s.Config.Enforcement); err != nil {
		add("config.enforcement", "%v", err)
	}

	for _, st := range Stages() {
		has := s.StageOutputs.Has(st)
		done := s.Completions[st] > 0
		if has != done {
			add("stage_outputs."+string(st), "output present=%t but completed=%t", has, done)
		}
	}
	if s.StageOutputs.Discovery != nil && s.StageOutputs.Discovery.Kind != StageResearchDiscovery {
		add("stage_outputs.research_discovery", "has kind %q", s.StageOutputs.Discovery.Kind)
	}
	if s.StageOutputs.DeepDive != nil && s.StageOutputs.DeepDive.Kind != StageResearchDeepDive {
		add("stage_outputs.research_deep_dive", "has kind %q", s.StageOutputs.DeepDive.Kind)
	}

	for st, n := range s.RetryCounters {
		if n < 0 || n > s.MaxRetries(st) {
			add("retry_counters."+string(st), "%d outside [0, %d]", n, s.MaxRetries(st))
		}
	}

	for _, e := range s.CostLedger.Entries {
		if e.CostUSD < 0 {
			add("cost_ledger_snapshot", "entry for %s is negative", e.Stage)
			break
		}
	}
	if diff := s.CostLedger.Total() - s.CostLedger.TotalUSD; diff > 0.01+1e-9 || diff < -0.01-1e-9 {
		add("cost_ledger_snapshot.total_usd", "%.2f disagrees with entries %.2f", s.CostLedger.TotalUSD, s.CostLedger.Total())
	}
	return out
}
