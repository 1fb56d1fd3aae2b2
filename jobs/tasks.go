package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	jobmetrics "github.com/odyssey-erp/scaffold-erp/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerRecompute re-runs a balance recomputation that failed inline.
	TaskLedgerRecompute = "ledger:recompute"
	// TaskDunningDeliver sends a dunning notice by e-mail.
	TaskDunningDeliver = "dunning:deliver"
	// TaskDunningOverdueScan reports overdue invoices eligible for dunning.
	TaskDunningOverdueScan = "dunning:overdue_scan"
	// TaskIdempotencyCleanup prunes expired Idempotency-Key records.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerRecomputePayload identifies the balance scope to recompute.
type LedgerRecomputePayload struct {
	ScopeID     string    `json:"scope_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewLedgerRecomputeTask constructs a recompute task.
func NewLedgerRecomputeTask(scopeID string) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerRecomputePayload{ScopeID: scopeID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerRecompute, data), nil
}

// DunningDeliverPayload carries a rendered notice to its recipient.
type DunningDeliverPayload = dunning.Delivery

// NewDunningDeliverTask constructs a delivery task.
func NewDunningDeliverTask(payload DunningDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDunningDeliver, data), nil
}

// OverdueScanPayload controls the overdue invoice scan.
type OverdueScanPayload struct {
	// GraceDays shifts the reference date back so freshly overdue invoices are ignored.
	GraceDays int `json:"grace_days"`
}

// NewOverdueScanTask constructs an overdue scan task.
func NewOverdueScanTask(graceDays int) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{GraceDays: graceDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDunningOverdueScan, data), nil
}

// IdempotencyCleanupPayload sets how long processed keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
