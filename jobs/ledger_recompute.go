package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/scaffold-erp/internal/jobs"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
)

// Recomputer recomputes the automatic balance for a scope.
type Recomputer interface {
	RecomputeBalance(ctx context.Context, scopeID string) (ledger.RecomputeResult, error)
}

// LedgerRecomputeJob retries balance recomputations that failed during a
// ledger change.
type LedgerRecomputeJob struct {
	Ledger  Recomputer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerRecomputeJob wires the recompute handler.
func NewLedgerRecomputeJob(recomputer Recomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerRecomputeJob {
	return &LedgerRecomputeJob{Ledger: recomputer, Logger: logger, Metrics: metrics}
}

// Handle executes one recomputation. Errors are returned so asynq retries.
func (j *LedgerRecomputeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger recompute: handler not configured")
	}
	var payload LedgerRecomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLedgerRecompute)
	logger := j.logger().With(slog.String("scope", payload.ScopeID))

	res, err := j.Ledger.RecomputeBalance(ctx, payload.ScopeID)
	if err != nil {
		logger.Error("recompute failed", slog.Any("error", err))
		return tracker.End(err)
	}
	if res.Skipped {
		logger.Info("recompute skipped, no manual baseline")
		return tracker.End(nil)
	}
	logger.Info("recompute completed",
		slog.String("balance", res.Balance.StringFixed(2)),
		slog.Int("entries", res.Entries),
		slog.Int64("deleted_snapshots", res.Deleted),
	)
	return tracker.End(nil)
}

func (j *LedgerRecomputeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerRecompute))
	}
	return slog.Default().With(slog.String("job", TaskLedgerRecompute))
}

func (j *LedgerRecomputeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
