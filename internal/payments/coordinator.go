// Package payments coordinates invoice status changes with dunning and the ledger.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// NoticeSettler closes the dunning notices of a paid invoice.
type NoticeSettler interface {
	SettleForInvoice(ctx context.Context, invoiceID, reason string) (int, error)
}

// Ledger books and cancels automatic invoice income.
type Ledger interface {
	BookInvoiceIncome(ctx context.Context, in ledger.InvoiceIncome) (ledger.Entry, error)
	CancelInvoiceIncome(ctx context.Context, entryID, reason string) (ledger.Entry, bool, error)
	Reconcile(ctx context.Context, scopeID string)
}

// StatusChange is a requested invoice status with optional payment details.
type StatusChange struct {
	Status     invoices.Status
	PaidAt     *time.Time
	PaidAmount *decimal.Decimal
	Note       string
}

// Coordinator applies invoice status changes and their cascades.
type Coordinator struct {
	invoices invoices.Repository
	notices  NoticeSettler
	ledger   Ledger
	locker   lock.Locker
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator wires the coordinator.
func NewCoordinator(repo invoices.Repository, notices NoticeSettler, ledgerSvc Ledger, locker lock.Locker, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		invoices: repo,
		notices:  notices,
		ledger:   ledgerSvc,
		locker:   locker,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

var allowedStatuses = map[invoices.Status]bool{
	invoices.StatusPaid:          true,
	invoices.StatusOpen:          true,
	invoices.StatusCancelled:     true,
	invoices.StatusPartiallyPaid: true,
}

// run carries state between the steps of one status change.
type run struct {
	change        StatusChange
	before        invoices.Invoice
	after         invoices.Invoice
	ledgerChanged bool
}

type step struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (c *Coordinator) steps() []step {
	return []step{
		{name: "apply_invoice", fn: c.applyInvoice},
		{name: "settle_notices", fn: c.settleNotices},
		{name: "book_income", fn: c.bookIncome},
		{name: "cancel_income", fn: c.cancelIncome},
		{name: "recompute_balance", fn: c.recomputeBalance},
		{name: "project_totals", fn: c.projectTotals},
	}
}

// SetStatus moves an invoice to status and runs the cascades. Every step is
// idempotent, so repeating a call after a partial failure completes the work.
func (c *Coordinator) SetStatus(ctx context.Context, invoiceID string, change StatusChange) (invoices.Invoice, error) {
	if !allowedStatuses[change.Status] {
		return invoices.Invoice{}, shared.Validationf("status must be one of paid, open, cancelled, partially_paid")
	}
	if change.PaidAmount != nil && change.PaidAmount.IsNegative() {
		return invoices.Invoice{}, shared.Validationf("paid amount must not be negative")
	}
	if _, err := c.invoices.Get(ctx, invoiceID); err != nil {
		return invoices.Invoice{}, err
	}

	var result invoices.Invoice
	err := lock.BestEffort(ctx, c.locker, c.logger, shared.InvoiceLockKey(invoiceID), func(ctx context.Context) error {
		before, err := c.invoices.Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		r := &run{change: change, before: before}
		for _, s := range c.steps() {
			if err := s.fn(ctx, r); err != nil {
				c.logger.Error("invoice status step failed",
					slog.String("invoice", invoiceID), slog.String("step", s.name), slog.Any("error", err))
				return fmt.Errorf("payments: %s: %w", s.name, err)
			}
		}
		result, err = c.invoices.Get(ctx, invoiceID)
		return err
	})
	if err != nil {
		return invoices.Invoice{}, err
	}
	c.logger.Info("invoice status changed",
		slog.String("invoice", result.Number),
		slog.String("status", string(result.Status)),
		slog.String("actor", shared.ActorFromContext(ctx)))
	return result, nil
}

func (c *Coordinator) applyInvoice(ctx context.Context, r *run) error {
	update := invoices.PaymentUpdate{Status: r.change.Status, PaymentNote: r.change.Note}
	switch r.change.Status {
	case invoices.StatusPaid:
		paidAt := c.now()
		if r.change.PaidAt != nil {
			paidAt = *r.change.PaidAt
		}
		amount := r.before.Gross
		if r.change.PaidAmount != nil {
			amount = *r.change.PaidAmount
		}
		update.PaidAt = &paidAt
		update.PaidAmount = &amount
	case invoices.StatusPartiallyPaid:
		amount := decimal.Zero
		if r.change.PaidAmount != nil {
			amount = *r.change.PaidAmount
		}
		update.PaidAmount = &amount
	default:
		update.PaymentNote = ""
	}
	after, err := c.invoices.ApplyPayment(ctx, r.before.ID, update)
	if err != nil {
		return err
	}
	r.after = after
	return nil
}

func (c *Coordinator) settleNotices(ctx context.Context, r *run) error {
	if r.change.Status != invoices.StatusPaid {
		return nil
	}
	paidAt := c.now()
	if r.after.PaidAt != nil {
		paidAt = *r.after.PaidAt
	}
	reason := fmt.Sprintf("Automatisch erledigt: Rechnung %s am %s bezahlt", r.after.Number, shared.FormatDate(paidAt))
	n, err := c.notices.SettleForInvoice(ctx, r.after.ID, reason)
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.Info("dunning notices settled", slog.String("invoice", r.after.Number), slog.Int("count", n))
	}
	return nil
}

func (c *Coordinator) bookIncome(ctx context.Context, r *run) error {
	if r.change.Status != invoices.StatusPaid || r.after.IncomeEntryID != "" {
		return nil
	}
	entryID := uuid.NewString()
	claimed, err := c.invoices.ClaimIncomeEntry(ctx, r.after.ID, entryID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	bookedAt := c.now()
	if r.after.PaidAt != nil {
		bookedAt = *r.after.PaidAt
	}
	_, err = c.ledger.BookInvoiceIncome(ctx, ledger.InvoiceIncome{
		EntryID:       entryID,
		InvoiceID:     r.after.ID,
		InvoiceNumber: r.after.Number,
		CustomerName:  r.after.CustomerName,
		ScopeID:       r.after.ScopeID,
		Gross:         r.after.Gross,
		Net:           r.after.Net,
		Tax:           r.after.Tax,
		BookedAt:      bookedAt,
	})
	if err != nil {
		if rerr := c.invoices.ReleaseIncomeEntry(ctx, r.after.ID, entryID); rerr != nil {
			c.logger.Error("release income claim", slog.String("invoice", r.after.ID), slog.Any("error", rerr))
		}
		if errors.Is(err, ledger.ErrDuplicateInvoiceIncome) {
			c.logger.Warn("automatic income already booked", slog.String("invoice", r.after.Number))
			return nil
		}
		return err
	}
	r.ledgerChanged = true
	return nil
}

func (c *Coordinator) cancelIncome(ctx context.Context, r *run) error {
	entryID := r.after.IncomeEntryID
	if r.change.Status == invoices.StatusPaid || entryID == "" {
		return nil
	}
	reason := fmt.Sprintf("Storniert: Rechnung %s auf Status %s gesetzt", r.after.Number, r.change.Status)
	_, changed, err := c.ledger.CancelInvoiceIncome(ctx, entryID, reason)
	if err != nil {
		return err
	}
	if err := c.invoices.ReleaseIncomeEntry(ctx, r.after.ID, entryID); err != nil {
		return err
	}
	r.ledgerChanged = r.ledgerChanged || changed
	return nil
}

func (c *Coordinator) recomputeBalance(ctx context.Context, r *run) error {
	if r.ledgerChanged {
		c.ledger.Reconcile(ctx, r.after.ScopeID)
	}
	return nil
}

func (c *Coordinator) projectTotals(ctx context.Context, r *run) error {
	_, err := invoices.RecomputeProjectTotals(ctx, c.invoices, r.after.ProjectID)
	return err
}
