package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/checkpoint"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// checkpointer adapts a checkpoint.Store to one episode run. It carries the
// recovery count across the run's saves, since every save replaces the
// record's metadata.
type checkpointer struct {
	store      *checkpoint.Store
	ledger     *cost.Ledger
	logger     *slog.Logger
	recoveries int
}

var _ flowgraph.Checkpointer = (*checkpointer)(nil)

// Save implements flowgraph.Checkpointer.
func (c *checkpointer) Save(_ context.Context, snap flowgraph.Snapshot) error {
	s, err := episode.Unmarshal(snap.State)
	if err != nil {
		return err
	}

	md := checkpoint.Metadata{
		EpisodeID:           s.EpisodeID,
		Status:              checkpoint.StatusActive,
		CurrentStage:        string(s.CurrentStage),
		NextNode:            snap.NextNode,
		Label:               label(snap),
		Progress:            snap.Fraction,
		CostSoFar:           c.ledger.Total(s.EpisodeID),
		Errors:              len(s.UnresolvedErrors()),
		RecoveryAttempts:    c.recoveries,
		MaxRecoveryAttempts: s.Config.MaxRecoveryAttempts,
		Topic:               s.Topic,
	}

	if err := c.store.Save(s.EpisodeID, snap.State, md); err != nil {
		return fmt.Errorf("save episode %s: %w", s.EpisodeID, err)
	}

	if snap.Phase == flowgraph.PhaseCompleted {
		if s.CurrentStage == episode.StageFailed {
			return c.store.MarkAbandoned(s.EpisodeID, "episode failed")
		}
		return c.store.MarkCompleted(s.EpisodeID)
	}
	if snap.Phase != flowgraph.PhaseInterrupted {
		return nil
	}

	reason := "interrupted"
	if snap.Cause != nil {
		reason = snap.Cause.Error()
	}
	switch {
	case terminal(snap.Cause):
		return c.store.MarkAbandoned(s.EpisodeID, reason)
	case errors.Is(snap.Cause, context.Canceled):
		// The caller stopped the run between nodes; nothing failed.
		return c.store.MarkPaused(s.EpisodeID, reason)
	default:
		return c.store.MarkInterrupted(s.EpisodeID, reason)
	}
}

// Restore implements flowgraph.Checkpointer. It counts a recovery attempt,
// migrates the saved state, and reloads the episode's ledger.
func (c *checkpointer) Restore(_ context.Context, runID string) (flowgraph.Snapshot, error) {
	rec, err := c.store.MarkResumed(runID)
	if err != nil {
		return flowgraph.Snapshot{}, err
	}

	s, err := episode.Unmarshal(rec.State)
	if err != nil {
		if aerr := c.store.MarkAbandoned(runID, err.Error()); aerr != nil {
			c.logger.Warn("abandon corrupt episode failed", "episode_id", runID, "error", aerr)
		}
		return flowgraph.Snapshot{}, err
	}
	if s.CostLedger.EpisodeID == "" {
		s.CostLedger.EpisodeID = s.EpisodeID
	}
	if err := c.ledger.Restore(s.CostLedger); err != nil {
		return flowgraph.Snapshot{}, fgerrors.Corrupt(err, "restore cost ledger")
	}
	c.recoveries = rec.Metadata.RecoveryAttempts

	next := rec.Metadata.NextNode
	if next == "" {
		next = resumePoint(s)
	}
	data, err := episode.Marshal(s)
	if err != nil {
		return flowgraph.Snapshot{}, err
	}

	c.logger.Info("episode restored",
		"episode_id", s.EpisodeID,
		"current_stage", string(s.CurrentStage),
		"next_node", next,
		"cost_usd", c.ledger.Total(s.EpisodeID),
		"recovery_attempt", c.recoveries,
	)
	return flowgraph.Snapshot{
		Progress: flowgraph.Progress{
			RunID:    runID,
			NodeID:   string(s.CurrentStage),
			NextNode: next,
			Fraction: rec.Metadata.Progress,
		},
		Phase: flowgraph.PhaseAfter,
		State: data,
	}, nil
}

// terminal reports causes a resumed run could not get past.
func terminal(cause error) bool {
	if cause == nil {
		return false
	}
	var limit *episode.RetryLimitError
	if errors.As(cause, &limit) {
		return true
	}
	return fgerrors.Classify(cause).Fatal()
}

func label(snap flowgraph.Snapshot) string {
	switch snap.Phase {
	case flowgraph.PhaseBefore:
		return "running " + snap.NodeID
	case flowgraph.PhaseAfter:
		return "completed node " + snap.NodeID
	case flowgraph.PhaseInterrupted:
		return "interrupted at " + snap.NextNode
	default:
		return "completed"
	}
}
