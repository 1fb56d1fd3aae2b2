package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates invoice payment states.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusOpen          Status = "open"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// Invoice is an issued customer invoice.
type Invoice struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	CustomerID        string          `json:"customer_id"`
	CustomerName      string          `json:"customer_name"`
	ProjectID         string          `json:"project_id,omitempty"`
	ScopeID           string          `json:"scope_id,omitempty"`
	Gross             decimal.Decimal `json:"gross"`
	Net               decimal.Decimal `json:"net"`
	Tax               decimal.Decimal `json:"tax"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	Status            Status          `json:"status"`
	DunningStage      int             `json:"dunning_stage"`
	LastDunningAt     *time.Time      `json:"last_dunning_at,omitempty"`
	IssuedAt          time.Time       `json:"issued_at"`
	DueAt             *time.Time      `json:"due_at,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	PaymentNote       string          `json:"payment_note,omitempty"`
	AutoIncomeCreated bool            `json:"auto_income_created"`
	IncomeEntryID     string          `json:"income_entry_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Outstanding returns the amount still owed: gross minus paid, zero once paid.
func (i Invoice) Outstanding() decimal.Decimal {
	if i.Status == StatusPaid {
		return decimal.Zero
	}
	open := i.Gross.Sub(i.PaidAmount)
	if open.IsNegative() {
		return decimal.Zero
	}
	return open
}

// DaysOverdue returns whole days past the due date at asOf, zero when not due.
func (i Invoice) DaysOverdue(asOf time.Time) int {
	if i.DueAt == nil || !asOf.After(*i.DueAt) {
		return 0
	}
	return int(asOf.Sub(*i.DueAt).Hours() / 24)
}

// PaymentUpdate carries the invoice side of a status change.
type PaymentUpdate struct {
	Status      Status
	PaidAt      *time.Time
	PaidAmount  *decimal.Decimal
	PaymentNote string
}

// ProjectTotals aggregates invoice figures for one project.
type ProjectTotals struct {
	OpenBalance decimal.Decimal
	Billed      decimal.Decimal
}

// TotalsFor sums the outstanding and billed amounts of a project's invoices.
func TotalsFor(list []Invoice) ProjectTotals {
	totals := ProjectTotals{OpenBalance: decimal.Zero, Billed: decimal.Zero}
	for _, inv := range list {
		totals.OpenBalance = totals.OpenBalance.Add(inv.Outstanding())
		totals.Billed = totals.Billed.Add(inv.Gross)
	}
	return totals
}

// Eligibility describes whether a customer may receive dunning notices.
type Eligibility struct {
	CustomerID      string `json:"customer_id"`
	DunningAllowed  bool   `json:"dunning_allowed"`
	BlockReason     string `json:"block_reason,omitempty"`
	ProjectOverride bool   `json:"project_override"`
}

// DefaultBlockReason is shown when a customer is blocked without a stated reason.
const DefaultBlockReason = "Kunde ist für Mahnungen gesperrt"

// Allowed reports whether dunning may proceed, honouring the project override.
func (e Eligibility) Allowed() bool {
	return e.DunningAllowed || e.ProjectOverride
}

// Reason returns the user facing block reason.
func (e Eligibility) Reason() string {
	if e.BlockReason == "" {
		return DefaultBlockReason
	}
	return e.BlockReason
}
