package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/scaffold-erp/internal/jobs"
)

// Mailer transmits a plain text e-mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of an SMTP relay.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail dispatched", slog.String("to", to), slog.String("subject", subject), slog.Int("body_bytes", len(body)))
	return nil
}

// DunningDeliverJob hands sent notices to the mailer.
type DunningDeliverJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDunningDeliverJob wires the delivery handler.
func NewDunningDeliverJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DunningDeliverJob {
	return &DunningDeliverJob{Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle delivers one notice.
func (j *DunningDeliverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil {
		return errors.New("dunning deliver: handler not configured")
	}
	var payload DunningDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger().With(slog.String("notice_id", payload.NoticeID), slog.String("number", payload.Number))
	if payload.Recipient == "" {
		logger.Warn("delivery without recipient dropped")
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDunningDeliver)
	if err := j.Mailer.Send(ctx, payload.Recipient, payload.Subject, payload.Body); err != nil {
		logger.Error("delivery failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("notice delivered")
	return tracker.End(nil)
}

func (j *DunningDeliverJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDunningDeliver))
	}
	return slog.Default().With(slog.String("job", TaskDunningDeliver))
}

func (j *DunningDeliverJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
