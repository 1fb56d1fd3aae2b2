package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// RecomputeScheduler defers a failed recomputation to the background worker.
type RecomputeScheduler interface {
	ScheduleRecompute(ctx context.Context, scopeID string) error
}

// Service manages ledger entries and snapshots and keeps the derived balance current.
type Service struct {
	repo      Repository
	engine    *Engine
	scheduler RecomputeScheduler
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the ledger service. scheduler may be nil.
func NewService(repo Repository, engine *Engine, scheduler RecomputeScheduler, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, scheduler: scheduler, metrics: metrics, logger: logger, now: time.Now}
}

// EntryInput captures a manual income or expense.
type EntryInput struct {
	ScopeID      string
	Kind         Kind
	Amount       decimal.Decimal
	NetAmount    *decimal.Decimal
	Tax          *decimal.Decimal
	BookedAt     time.Time
	CategoryID   string
	CategoryName string
	Description  string
}

// EntryPatch lists the editable fields of an entry; nil leaves a field unchanged.
type EntryPatch struct {
	Kind        *Kind
	Amount      *decimal.Decimal
	BookedAt    *time.Time
	Description *string
	CategoryID  *string
}

// SnapshotInput captures a trusted, manually counted balance.
type SnapshotInput struct {
	ScopeID string
	Amount  decimal.Decimal
	TakenAt time.Time
	Note    string
}

// InvoiceIncome describes the automatic income booked for a paid invoice.
type InvoiceIncome struct {
	EntryID       string
	InvoiceID     string
	InvoiceNumber string
	CustomerName  string
	ScopeID       string
	Gross         decimal.Decimal
	Net           decimal.Decimal
	Tax           decimal.Decimal
	BookedAt      time.Time
}

func validKind(k Kind) bool {
	return k == KindIncome || k == KindExpense
}

// CreateEntry books a manual entry and reconciles the balance.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (Entry, error) {
	if !validKind(in.Kind) {
		return Entry{}, shared.Validationf("kind must be income or expense")
	}
	if !in.Amount.IsPositive() {
		return Entry{}, shared.Validationf("amount must be positive")
	}
	now := s.now()
	bookedAt := in.BookedAt
	if bookedAt.IsZero() {
		bookedAt = now
	}
	entry := Entry{
		ID:           uuid.NewString(),
		ScopeID:      in.ScopeID,
		Kind:         in.Kind,
		Amount:       in.Amount,
		NetAmount:    in.Amount,
		Tax:          decimal.Zero,
		Status:       EntryBooked,
		BookedAt:     bookedAt,
		CategoryID:   in.CategoryID,
		CategoryName: in.CategoryName,
		Description:  strings.TrimSpace(in.Description),
		Source:       SourceManual,
		CreatedBy:    shared.ActorFromContext(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.NetAmount != nil {
		entry.NetAmount = *in.NetAmount
	}
	if in.Tax != nil {
		entry.Tax = *in.Tax
	}
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	s.Reconcile(ctx, entry.ScopeID)
	return entry, nil
}

// GetEntry loads one entry.
func (s *Service) GetEntry(ctx context.Context, id string) (Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// UpdateEntry edits a booked entry.
func (s *Service) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (Entry, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if entry.Status == EntryCancelled {
		return Entry{}, shared.Conflictf("entry %s is cancelled", id)
	}
	if patch.Kind != nil {
		if !validKind(*patch.Kind) {
			return Entry{}, shared.Validationf("kind must be income or expense")
		}
		entry.Kind = *patch.Kind
	}
	if patch.Amount != nil {
		if !patch.Amount.IsPositive() {
			return Entry{}, shared.Validationf("amount must be positive")
		}
		if entry.NetAmount.Equal(entry.Amount) {
			entry.NetAmount = *patch.Amount
		}
		entry.Amount = *patch.Amount
	}
	if patch.BookedAt != nil && !patch.BookedAt.IsZero() {
		entry.BookedAt = *patch.BookedAt
	}
	if patch.Description != nil {
		entry.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.CategoryID != nil {
		entry.CategoryID = *patch.CategoryID
	}
	entry.UpdatedAt = s.now()
	if err := s.repo.UpdateEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	s.Reconcile(ctx, entry.ScopeID)
	return entry, nil
}

// DeleteEntry removes a manual entry. Automatic invoice income can only be cancelled.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Source == SourceInvoiceAuto {
		return shared.Conflictf("entry %s was booked from invoice %s and can only be cancelled", id, entry.InvoiceID)
	}
	if err := s.repo.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.Reconcile(ctx, entry.ScopeID)
	return nil
}

// CancelEntry flags an entry cancelled so it no longer counts toward the balance.
// Cancelling a cancelled entry is a no-op.
func (s *Service) CancelEntry(ctx context.Context, id, note string) (Entry, error) {
	entry, changed, err := s.cancel(ctx, id, note)
	if err != nil {
		return Entry{}, err
	}
	if changed {
		s.Reconcile(ctx, entry.ScopeID)
	}
	return entry, nil
}

func (s *Service) cancel(ctx context.Context, id, note string) (Entry, bool, error) {
	entry, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, false, err
	}
	if entry.Status == EntryCancelled {
		return entry, false, nil
	}
	entry.Status = EntryCancelled
	if note = strings.TrimSpace(note); note != "" {
		if entry.Note != "" {
			entry.Note += "\n"
		}
		entry.Note += note
	}
	entry.UpdatedAt = s.now()
	if err := s.repo.UpdateEntry(ctx, entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// CreateManualSnapshot records a new trusted baseline and recomputes from it.
func (s *Service) CreateManualSnapshot(ctx context.Context, in SnapshotInput) (Snapshot, error) {
	now := s.now()
	takenAt := in.TakenAt
	if takenAt.IsZero() {
		takenAt = now
	}
	snap := Snapshot{
		ID:        uuid.NewString(),
		ScopeID:   in.ScopeID,
		Amount:    in.Amount,
		Type:      SnapshotManual,
		TakenAt:   takenAt,
		Note:      strings.TrimSpace(in.Note),
		CreatedBy: shared.ActorFromContext(ctx),
		CreatedAt: now,
	}
	if err := s.repo.CreateSnapshot(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	s.Reconcile(ctx, snap.ScopeID)
	return snap, nil
}

// ListEntries returns entries matching the filter, newest first.
func (s *Service) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, f)
}

// ListSnapshots returns the most recent snapshots of a scope.
func (s *Service) ListSnapshots(ctx context.Context, scopeID string, limit int) ([]Snapshot, error) {
	return s.repo.ListSnapshots(ctx, scopeID, limit)
}

// RecomputeBalance runs the engine synchronously and surfaces its error.
func (s *Service) RecomputeBalance(ctx context.Context, scopeID string) (RecomputeResult, error) {
	return s.engine.RecomputeBalance(ctx, scopeID)
}

// Reconcile recomputes the balance after a ledger change. Failures never reach
// the caller; they are logged, counted and handed to the scheduler for retry.
func (s *Service) Reconcile(ctx context.Context, scopeID string) {
	if _, err := s.engine.RecomputeBalance(ctx, scopeID); err != nil {
		s.logger.Error("balance recompute failed", slog.String("scope", scopeID), slog.Any("error", err))
		s.metrics.ReconcileFailed("recompute_balance")
		if s.scheduler == nil {
			return
		}
		if err := s.scheduler.ScheduleRecompute(context.WithoutCancel(ctx), scopeID); err != nil {
			s.logger.Error("schedule balance recompute", slog.String("scope", scopeID), slog.Any("error", err))
		}
	}
}

// IncomeCategoryForInvoices resolves the category for automatic invoice income,
// falling back to the default category.
func (s *Service) IncomeCategoryForInvoices(ctx context.Context) Category {
	cat, err := s.repo.CategoryByName(ctx, KindIncome, InvoiceSettlementCategory)
	if err != nil {
		if !errors.Is(err, ErrCategoryNotFound) {
			s.logger.Warn("income category lookup", slog.Any("error", err))
		}
		return DefaultIncomeCategory
	}
	return cat
}

// BookInvoiceIncome inserts the automatic income entry for a paid invoice.
// The caller must have claimed in.EntryID on the invoice beforehand.
func (s *Service) BookInvoiceIncome(ctx context.Context, in InvoiceIncome) (Entry, error) {
	if in.EntryID == "" || in.InvoiceID == "" {
		return Entry{}, shared.Validationf("entry and invoice id are required")
	}
	cat := s.IncomeCategoryForInvoices(ctx)
	now := s.now()
	bookedAt := in.BookedAt
	if bookedAt.IsZero() {
		bookedAt = now
	}
	desc := fmt.Sprintf("Zahlungseingang Rechnung %s", in.InvoiceNumber)
	if in.CustomerName != "" {
		desc += " - " + in.CustomerName
	}
	entry := Entry{
		ID:           in.EntryID,
		ScopeID:      in.ScopeID,
		Kind:         KindIncome,
		Amount:       in.Gross,
		NetAmount:    in.Net,
		Tax:          in.Tax,
		Status:       EntryBooked,
		BookedAt:     bookedAt,
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		Description:  desc,
		InvoiceID:    in.InvoiceID,
		Source:       SourceInvoiceAuto,
		CreatedBy:    shared.ActorFromContext(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateInvoiceIncome) {
			s.metrics.IncomeBooked("duplicate")
		}
		return Entry{}, err
	}
	s.metrics.IncomeBooked("booked")
	return entry, nil
}

// CancelInvoiceIncome cancels the automatic entry of an invoice that left paid.
// It reports whether anything changed; a missing entry is treated as already gone.
func (s *Service) CancelInvoiceIncome(ctx context.Context, entryID, reason string) (Entry, bool, error) {
	entry, changed, err := s.cancel(ctx, entryID, reason)
	if errors.Is(err, ErrEntryNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if changed {
		s.metrics.IncomeBooked("cancelled")
	}
	return entry, changed, nil
}
