// Package episode defines the state record that flows through the pipeline
// and the operations that evolve it.
//
// State is a value. Every operation returns a new State and leaves its
// argument untouched, so a node that fails part way never leaves a half
// written record behind.
package episode

import "slices"

// Stage names a pipeline node or a terminal marker.
type Stage string

const (
	StageInitialized Stage = "initialized"

	StageResearchDiscovery  Stage = "research_discovery"
	StageResearchDeepDive   Stage = "research_deep_dive"
	StageResearchValidation Stage = "research_validation"
	StageResearchSynthesis  Stage = "research_synthesis"
	StageQuestionGeneration Stage = "question_generation"
	StagePlanning           Stage = "planning"
	StageWriting            Stage = "writing"
	StagePolishing          Stage = "polishing"
	StageAudioGeneration    Stage = "audio_generation"
	StageQualityCheck       Stage = "quality_check"

	StageCostCheck    Stage = "cost_check"
	StageErrorHandler Stage = "error_handler"

	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

var productionStages = []Stage{
	StageResearchDiscovery,
	StageResearchDeepDive,
	StageResearchValidation,
	StageResearchSynthesis,
	StageQuestionGeneration,
	StagePlanning,
	StageWriting,
	StagePolishing,
	StageAudioGeneration,
	StageQualityCheck,
}

// Stages returns the ten production stages in pipeline order.
func Stages() []Stage {
	return slices.Clone(productionStages)
}

// IsProduction reports whether s is one of the ten production stages.
func (s Stage) IsProduction() bool {
	return slices.Contains(productionStages, s)
}

// Valid reports whether s is a legal current_stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageInitialized, StageCostCheck, StageErrorHandler, StageCompleted, StageFailed:
		return true
	}
	return s.IsProduction()
}

// Index returns the position of s in pipeline order, or -1.
func (s Stage) Index() int {
	return slices.Index(productionStages, s)
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	return string(s)
}
