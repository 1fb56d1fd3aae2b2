package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// Engine derives automatic balance snapshots from the latest manual baseline.
type Engine struct {
	repo    Repository
	locker  lock.Locker
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine wires the recomputation engine.
func NewEngine(repo Repository, locker lock.Locker, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, locker: locker, metrics: metrics, logger: logger, now: time.Now}
}

// RecomputeBalance rebuilds the automatic snapshot for a scope. Without a manual
// baseline nothing is written and the result reports Skipped.
func (e *Engine) RecomputeBalance(ctx context.Context, scopeID string) (RecomputeResult, error) {
	var result RecomputeResult
	err := lock.BestEffort(ctx, e.locker, e.logger, shared.BalanceLockKey(scopeID), func(ctx context.Context) error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			res, err := e.recompute(ctx, tx, scopeID)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	switch {
	case err != nil:
		e.metrics.BalanceRecomputed("error")
		return RecomputeResult{}, err
	case result.Skipped:
		e.metrics.BalanceRecomputed("skipped")
	default:
		e.metrics.BalanceRecomputed("ok")
	}
	return result, nil
}

func (e *Engine) recompute(ctx context.Context, tx TxRepository, scopeID string) (RecomputeResult, error) {
	result := RecomputeResult{ScopeID: scopeID, Income: decimal.Zero, Expense: decimal.Zero}
	baseline, err := tx.LatestManualSnapshot(ctx, scopeID)
	if errors.Is(err, ErrNoBaseline) {
		e.logger.Info("balance recompute skipped", slog.String("scope", scopeID), slog.String("reason", "no manual baseline"))
		result.Skipped = true
		result.Balance = decimal.Zero
		return result, nil
	}
	if err != nil {
		return RecomputeResult{}, err
	}
	result.Baseline = &baseline

	entries, err := tx.EntriesAfter(ctx, scopeID, baseline.TakenAt)
	if err != nil {
		return RecomputeResult{}, err
	}
	totals := Sum(entries)
	result.Income = totals.Income
	result.Expense = totals.Expense
	result.Entries = totals.Count
	result.Balance = baseline.Amount.Add(totals.Income).Sub(totals.Expense)

	deleted, err := tx.DeleteAutomaticSnapshotsAfter(ctx, scopeID, baseline.TakenAt)
	if err != nil {
		return RecomputeResult{}, err
	}
	result.Deleted = deleted

	now := e.now()
	takenAt := now
	if !takenAt.After(baseline.TakenAt) {
		takenAt = baseline.TakenAt.Add(time.Microsecond)
	}
	snap := Snapshot{
		ID:        uuid.NewString(),
		ScopeID:   scopeID,
		Amount:    result.Balance,
		Type:      SnapshotAutomatic,
		TakenAt:   takenAt,
		Note:      recomputeNote(baseline, totals),
		CreatedBy: shared.ActorFromContext(ctx),
		CreatedAt: now,
	}
	if err := tx.CreateSnapshot(ctx, snap); err != nil {
		return RecomputeResult{}, err
	}
	result.Snapshot = &snap
	e.logger.Info("balance recomputed",
		slog.String("scope", scopeID),
		slog.String("balance", result.Balance.StringFixed(2)),
		slog.Int("entries", totals.Count),
		slog.Int64("deleted_snapshots", deleted))
	return result, nil
}

func recomputeNote(baseline Snapshot, totals Totals) string {
	return fmt.Sprintf("Automatisch neu berechnet: Basis %s (%s) + %d Transaktionen (Einnahmen %s, Ausgaben %s)",
		shared.FormatEUR(baseline.Amount), shared.FormatDate(baseline.TakenAt),
		totals.Count, shared.FormatEUR(totals.Income), shared.FormatEUR(totals.Expense))
}
