package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	jobmetrics "github.com/odyssey-erp/scaffold-erp/internal/jobs"
)

// OverdueLister lists overdue invoices split by dunning eligibility.
type OverdueLister interface {
	OverdueCandidates(ctx context.Context, asOf time.Time) (dunning.Candidates, error)
}

// OverdueScanJob reports invoices that are ready for the next dunning stage.
type OverdueScanJob struct {
	Dunning OverdueLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(lister OverdueLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Dunning: lister,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dunning == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceDays < 0 {
		payload.GraceDays = 0
	}

	start := j.now()
	tracker := j.metrics().Track(TaskDunningOverdueScan)
	asOf := start.AddDate(0, 0, -payload.GraceDays)
	logger := j.logger().With(slog.Int("grace_days", payload.GraceDays))
	logger.Info("starting overdue scan")

	candidates, err := j.Dunning.OverdueCandidates(ctx, asOf)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return tracker.End(err)
	}

	for _, c := range candidates.Allowed {
		logger.Info("invoice ready for dunning",
			slog.String("invoice", c.InvoiceNumber),
			slog.String("customer", c.CustomerName),
			slog.Int("days_overdue", c.DaysOverdue),
			slog.Int("suggested_stage", c.SuggestedStage),
		)
	}
	j.metrics().SetOverdue(len(candidates.Allowed), len(candidates.Blocked))

	logger.Info("completed overdue scan",
		slog.Int("allowed", len(candidates.Allowed)),
		slog.Int("blocked", len(candidates.Blocked)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDunningOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskDunningOverdueScan))
}

func (j *OverdueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
