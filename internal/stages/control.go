package stages

import (
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

// newCostCheck builds the node that sits between discovery and the rest of
// the pipeline. It stores no output; the route out of it is chosen by
// quality.DecideCost on the state it returns.
func newCostCheck(svc *Services) Stage {
	return &stage{
		name: episode.StageCostCheck,
		next: episode.StageCostCheck,
		svc:  svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			spent := c.svc.Ledger.Total(s.EpisodeID)
			decision := quality.DecideCost(s.RecordCostSnapshot(c.svc.Ledger))
			c.logger.Info("cost check",
				"spent_usd", spent,
				"budget_usd", s.Config.BudgetUSD,
				"decision", string(decision),
			)
			if decision == quality.CostOverBudget {
				observability.LogBudgetWarning(c.logger, s.EpisodeID, string(episode.StageCostCheck), spent, s.Config.BudgetUSD)
			}
			c.svc.Sink.RecordMetric(c.ctx, observability.MetricTotalCost, spent,
				map[string]string{"episode_id": s.EpisodeID}, time.Now())
			return nil, nil
		},
	}
}

// newErrorHandler builds the terminal failure node. It logs what went wrong
// and marks the episode failed.
func newErrorHandler(svc *Services) Stage {
	return &stage{
		name: episode.StageErrorHandler,
		next: episode.StageFailed,
		svc:  svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			unresolved := s.UnresolvedErrors()
			for _, e := range unresolved {
				c.logger.Error("unresolved stage error",
					"failed_stage", string(e.Stage),
					"kind", e.Kind,
					"message", e.Message,
				)
			}
			c.logger.Warn("episode failed",
				"unresolved_errors", len(unresolved),
				"cost_usd", c.svc.Ledger.Total(s.EpisodeID),
			)
			return nil, nil
		},
	}
}
