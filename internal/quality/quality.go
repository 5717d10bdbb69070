// Package quality scores stage output and turns scores into routing
// decisions.
//
// Scorers define the dimensions; a Gate only compares the overall score to
// its threshold. The decision functions are pure so the workflow graph can
// route on them without side effects.
package quality

import (
	"context"
	"maps"
	"slices"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Result is a gate verdict: pass, score, per-dimension scores, and advice.
type Result = episode.GateResult

// Subject is the artifact handed to a Scorer.
type Subject struct {
	Stage episode.Stage
	Topic string
	Text  string
}

// Score is a scorer's raw verdict together with what it cost to obtain.
type Score struct {
	Value      float64
	Dimensions map[string]float64
	Advice     []string
	Model      string
	CostUSD    float64
	Synthetic  bool
}

// Scorer rates an artifact on a 0 to 10 scale.
type Scorer interface {
	Name() string
	Score(ctx context.Context, subj Subject) (Score, error)
	EstimateCost(subj Subject) float64
}

// Gate passes scores at or above Threshold.
type Gate struct {
	Threshold float64
}

// NewGate returns a gate with threshold clamped to the score range.
func NewGate(threshold float64) Gate {
	return Gate{Threshold: clamp(threshold)}
}

// Evaluate clamps s into range and compares it with the threshold.
func (g Gate) Evaluate(s Score) Result {
	dims := make(map[string]float64, len(s.Dimensions))
	for k, v := range s.Dimensions {
		dims[k] = clamp(v)
	}
	score := clamp(s.Value)
	advice := slices.Clone(s.Advice)
	if advice == nil {
		advice = []string{}
	}
	return Result{
		Pass:       score >= g.Threshold,
		Score:      score,
		Threshold:  g.Threshold,
		Dimensions: dims,
		Advice:     advice,
	}
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return MinScore
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return v
}

// DecidePolish routes after polishing. A pass generates audio; a failure
// goes back to writing while writeRetries is below maxWriteRetries, and
// skips audio once they are used up.
func DecidePolish(r Result, writeRetries, maxWriteRetries int) string {
	switch {
	case r.Pass:
		return episode.DecisionGenerateAudio
	case writeRetries < maxWriteRetries:
		return episode.DecisionRetryWriting
	default:
		return episode.DecisionSkipAudio
	}
}

// CostDecision is the outcome of the post-discovery cost gate.
type CostDecision string

const (
	CostContinue   CostDecision = "continue"
	CostOverBudget CostDecision = "over_budget"
	CostErrors     CostDecision = "errors"
	CostComplete   CostDecision = "complete"
)

// DecideCost routes after discovery. Only strict enforcement yields
// CostOverBudget, and only once spend is above the budget; an episode
// sitting exactly at its ceiling continues. Unresolved errors go to the
// error handler. An episode that already holds its final quality output
// has nothing left to run and completes.
func DecideCost(s episode.State) CostDecision {
	mode, err := cost.ParseMode(s.Config.Enforcement)
	if err != nil {
		mode = cost.ModeStrict
	}
	spent := cost.FromUSD(s.CostLedger.TotalUSD)
	budget := cost.FromUSD(s.Config.BudgetUSD)

	switch {
	case mode == cost.ModeStrict && spent > budget:
		return CostOverBudget
	case len(s.UnresolvedErrors()) > 0:
		return CostErrors
	case s.StageOutputs.Has(episode.StageQualityCheck):
		return CostComplete
	default:
		return CostContinue
	}
}

// Dimensions returns the dimension names of r, sorted.
func Dimensions(r Result) []string {
	return slices.Sorted(maps.Keys(r.Dimensions))
}
