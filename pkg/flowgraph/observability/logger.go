// Package observability holds the slog helpers, OpenTelemetry metrics and
// spans, and the Sink that pipeline stages report spans, metrics, and costs
// to. Every piece has a no-op form, and a Sink never fails its caller.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger returns logger with run_id, node_id and attempt attached,
// or nil when logger is nil.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs that a run began.
func LogRunStart(logger *slog.Logger, runID string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs a run that reached END.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs a run that stopped with an error at lastNode.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs at debug level before a node runs.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs at debug level after a node returns.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs a node failure.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs a saved checkpoint and its encoded size.
func LogCheckpoint(logger *slog.Logger, nodeID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure the run survived.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogRetry logs a retry after a failed attempt.
func LogRetry(logger *slog.Logger, handler string, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("retrying call",
		slog.String("handler", handler),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogBreakerTransition logs a circuit breaker state change.
func LogBreakerTransition(logger *slog.Logger, name, from, to string) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if to == "open" {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "circuit breaker transition",
		slog.String("breaker", name),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogFallback logs that a synthetic fallback result replaced a real call.
func LogFallback(logger *slog.Logger, handler string, cause error) {
	if logger == nil {
		return
	}
	logger.Warn("using fallback result",
		slog.String("handler", handler),
		slog.String("cause", cause.Error()),
	)
}

// LogCost logs a cost ledger entry.
func LogCost(logger *slog.Logger, episodeID, stage, provider string, usd, totalUSD float64) {
	if logger == nil {
		return
	}
	logger.Debug("cost recorded",
		slog.String("episode_id", episodeID),
		slog.String("stage", stage),
		slog.String("provider", provider),
		slog.Float64("cost_usd", usd),
		slog.Float64("total_usd", totalUSD),
	)
}

// LogBudgetWarning logs a call allowed past the budget in warn mode.
func LogBudgetWarning(logger *slog.Logger, episodeID, stage string, projectedUSD, budgetUSD float64) {
	if logger == nil {
		return
	}
	logger.Warn("call exceeds budget",
		slog.String("episode_id", episodeID),
		slog.String("stage", stage),
		slog.Float64("projected_usd", projectedUSD),
		slog.Float64("budget_usd", budgetUSD),
	)
}

// LogQuality logs a quality gate evaluation.
func LogQuality(logger *slog.Logger, stage string, score, threshold float64, pass bool) {
	if logger == nil {
		return
	}
	logger.Info("quality gate evaluated",
		slog.String("stage", stage),
		slog.Float64("score", score),
		slog.Float64("threshold", threshold),
		slog.Bool("pass", pass),
	)
}

// TimedOperation starts a clock. The returned func reports milliseconds
// elapsed since the call and may be called repeatedly.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
