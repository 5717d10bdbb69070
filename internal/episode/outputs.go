package episode

import "time"

// Output is implemented by every stage's output record.
type Output interface {
	Stage() Stage
}

// Citation is a source reference returned by research.
type Citation struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at"`
}

// Finding is the answer to one research query.
type Finding struct {
	Query     string     `json:"query"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
	Synthetic bool       `json:"synthetic"`
}

// QueryFailure records a research query that produced nothing usable.
type QueryFailure struct {
	Query string `json:"query"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// ResearchOutput is produced by discovery and deep dive.
type ResearchOutput struct {
	Kind     Stage          `json:"kind"`
	Queries  []string       `json:"queries"`
	Findings []Finding      `json:"findings"`
	Failures []QueryFailure `json:"failures"`
	CostUSD  float64        `json:"cost_usd"`
}

// Stage implements Output.
func (o *ResearchOutput) Stage() Stage { return o.Kind }

// Synthetic reports whether every finding came from a fallback.
func (o *ResearchOutput) Synthetic() bool {
	if len(o.Findings) == 0 {
		return false
	}
	for _, f := range o.Findings {
		if !f.Synthetic {
			return false
		}
	}
	return true
}

// Claim verdicts.
const (
	VerdictSupported  = "supported"
	VerdictDisputed   = "disputed"
	VerdictUnverified = "unverified"
)

// ClaimCheck is the validation verdict for one claim.
type ClaimCheck struct {
	Claim   string   `json:"claim"`
	Verdict string   `json:"verdict"`
	Sources []string `json:"sources"`
}

// ValidationOutput is produced by research_validation.
type ValidationOutput struct {
	Claims     []ClaimCheck `json:"claims"`
	Confidence float64      `json:"confidence"`
	CostUSD    float64      `json:"cost_usd"`
}

// Stage implements Output.
func (o *ValidationOutput) Stage() Stage { return StageResearchValidation }

// SynthesisOutput is produced by research_synthesis.
type SynthesisOutput struct {
	Brief     string     `json:"brief"`
	KeyPoints []string   `json:"key_points"`
	Citations []Citation `json:"citations"`
	CostUSD   float64    `json:"cost_usd"`
}

// Stage implements Output.
func (o *SynthesisOutput) Stage() Stage { return StageResearchSynthesis }

// QuestionsOutput is produced by question_generation.
type QuestionsOutput struct {
	Questions []string `json:"questions"`
	CostUSD   float64  `json:"cost_usd"`
}

// Stage implements Output.
func (o *QuestionsOutput) Stage() Stage { return StageQuestionGeneration }

// Segment is one section of the episode plan.
type Segment struct {
	Heading string  `json:"heading"`
	Summary string  `json:"summary"`
	Minutes float64 `json:"minutes"`
}

// PlanOutput is produced by planning.
type PlanOutput struct {
	Title         string    `json:"title"`
	Segments      []Segment `json:"segments"`
	TargetMinutes float64   `json:"target_minutes"`
	CostUSD       float64   `json:"cost_usd"`
}

// Stage implements Output.
func (o *PlanOutput) Stage() Stage { return StagePlanning }

// ScriptOutput is produced by writing.
type ScriptOutput struct {
	Text      string   `json:"text"`
	WordCount int      `json:"word_count"`
	Attempt   int      `json:"attempt"`
	Advice    []string `json:"advice"`
	FilePath  string   `json:"file_path"`
	CostUSD   float64  `json:"cost_usd"`
}

// Stage implements Output.
func (o *ScriptOutput) Stage() Stage { return StageWriting }

// GateResult is a quality gate verdict.
type GateResult struct {
	Pass       bool               `json:"pass"`
	Score      float64            `json:"score"`
	Threshold  float64            `json:"threshold"`
	Dimensions map[string]float64 `json:"dimensions"`
	Advice     []string           `json:"advice"`
}

// Polish routing decisions.
const (
	DecisionGenerateAudio = "generate_audio"
	DecisionRetryWriting  = "retry_writing"
	DecisionSkipAudio     = "skip_audio"
)

// PolishOutput is produced by polishing.
type PolishOutput struct {
	Text      string     `json:"text"`
	WordCount int        `json:"word_count"`
	Gate      GateResult `json:"gate"`
	Decision  string     `json:"decision"`
	CostUSD   float64    `json:"cost_usd"`
}

// Stage implements Output.
func (o *PolishOutput) Stage() Stage { return StagePolishing }

// AudioOutput is produced by audio_generation.
type AudioOutput struct {
	FilePath        string  `json:"file_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	CharacterCount  int     `json:"character_count"`
	VoiceID         string  `json:"voice_id"`
	Synthetic       bool    `json:"synthetic"`
	CostUSD         float64 `json:"cost_usd"`
}

// Stage implements Output.
func (o *AudioOutput) Stage() Stage { return StageAudioGeneration }

// QualityOutput is produced by quality_check.
type QualityOutput struct {
	Gate         GateResult `json:"gate"`
	Passed       bool       `json:"passed"`
	AudioSkipped bool       `json:"audio_skipped"`
	FailureCause string     `json:"failure_cause"`
	ReportPath   string     `json:"report_path"`
	CostUSD      float64    `json:"cost_usd"`
}

// Stage implements Output.
func (o *QualityOutput) Stage() Stage { return StageQualityCheck }

// Outputs holds at most one output per production stage, keyed in JSON by
// stage name.
type Outputs struct {
	Discovery  *ResearchOutput   `json:"research_discovery,omitempty"`
	DeepDive   *ResearchOutput   `json:"research_deep_dive,omitempty"`
	Validation *ValidationOutput `json:"research_validation,omitempty"`
	Synthesis  *SynthesisOutput  `json:"research_synthesis,omitempty"`
	Questions  *QuestionsOutput  `json:"question_generation,omitempty"`
	Plan       *PlanOutput       `json:"planning,omitempty"`
	Script     *ScriptOutput     `json:"writing,omitempty"`
	Polished   *PolishOutput     `json:"polishing,omitempty"`
	Audio      *AudioOutput      `json:"audio_generation,omitempty"`
	Quality    *QualityOutput    `json:"quality_check,omitempty"`
}

// Get returns the output for a stage, or nil.
func (o Outputs) Get(s Stage) Output {
	switch s {
	case StageResearchDiscovery:
		if o.Discovery != nil {
			return o.Discovery
		}
	case StageResearchDeepDive:
		if o.DeepDive != nil {
			return o.DeepDive
		}
	case StageResearchValidation:
		if o.Validation != nil {
			return o.Validation
		}
	case StageResearchSynthesis:
		if o.Synthesis != nil {
			return o.Synthesis
		}
	case StageQuestionGeneration:
		if o.Questions != nil {
			return o.Questions
		}
	case StagePlanning:
		if o.Plan != nil {
			return o.Plan
		}
	case StageWriting:
		if o.Script != nil {
			return o.Script
		}
	case StagePolishing:
		if o.Polished != nil {
			return o.Polished
		}
	case StageAudioGeneration:
		if o.Audio != nil {
			return o.Audio
		}
	case StageQualityCheck:
		if o.Quality != nil {
			return o.Quality
		}
	}
	return nil
}

// Has reports whether a stage has an output.
func (o Outputs) Has(s Stage) bool {
	return o.Get(s) != nil
}

// Completed returns the stages with outputs, in pipeline order.
func (o Outputs) Completed() []Stage {
	var out []Stage
	for _, s := range productionStages {
		if o.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// with returns a copy of o with out stored under its stage. It reports
// false for an output whose stage has no slot.
func (o Outputs) with(out Output) (Outputs, bool) {
	switch v := out.(type) {
	case *ResearchOutput:
		switch v.Kind {
		case StageResearchDiscovery:
			o.Discovery = v
		case StageResearchDeepDive:
			o.DeepDive = v
		default:
			return o, false
		}
	case *ValidationOutput:
		o.Validation = v
	case *SynthesisOutput:
		o.Synthesis = v
	case *QuestionsOutput:
		o.Questions = v
	case *PlanOutput:
		o.Plan = v
	case *ScriptOutput:
		o.Script = v
	case *PolishOutput:
		o.Polished = v
	case *AudioOutput:
		o.Audio = v
	case *QualityOutput:
		o.Quality = v
	default:
		return o, false
	}
	return o, true
}
