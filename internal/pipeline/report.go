package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
)

// Report file suffixes.
const (
	CostReportSuffix  = "cost_report.json"
	ErrorReportSuffix = "error_report.json"
)

// ErrorReport is written when an episode stops without completing.
type ErrorReport struct {
	EpisodeID     string                `json:"episode_id"`
	Topic         string                `json:"topic"`
	StageFailed   episode.Stage         `json:"stage_failed"`
	Cause         string                `json:"cause,omitempty"`
	Errors        []episode.ErrorRecord `json:"errors"`
	CostBreakdown map[string]float64    `json:"cost_breakdown"`
	TotalCost     float64               `json:"total_cost"`
}

func writeCostReport(s episode.State, ledger *cost.Ledger) error {
	report := ledger.Report(s.EpisodeID, s.Config.BudgetUSD)
	if report.Entries == nil {
		report.Entries = []cost.Entry{}
	}
	if report.ByStage == nil {
		report.ByStage = map[string]float64{}
	}
	return writeJSON(stages.ArtifactPath(s.Config.OutputDir, s.EpisodeID, CostReportSuffix), report)
}

func writeErrorReport(s episode.State, ledger *cost.Ledger, stage episode.Stage, cause error) error {
	report := ErrorReport{
		EpisodeID:     s.EpisodeID,
		Topic:         s.Topic,
		StageFailed:   stage,
		Errors:        s.Errors,
		CostBreakdown: ledger.ByStage(s.EpisodeID),
		TotalCost:     ledger.Total(s.EpisodeID),
	}
	if cause != nil {
		report.Cause = cause.Error()
	}
	if report.Errors == nil {
		report.Errors = []episode.ErrorRecord{}
	}
	if report.CostBreakdown == nil {
		report.CostBreakdown = map[string]float64{}
	}
	return writeJSON(stages.ArtifactPath(s.Config.OutputDir, s.EpisodeID, ErrorReportSuffix), report)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return stages.WriteArtifact(path, append(data, '\n'))
}
