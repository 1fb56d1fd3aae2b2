package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes income from expense entries.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// EntryStatus enumerates ledger entry states.
type EntryStatus string

const (
	EntryBooked    EntryStatus = "booked"
	EntryCancelled EntryStatus = "cancelled"
)

const (
	// SourceInvoiceAuto tags entries booked automatically when an invoice is paid.
	SourceInvoiceAuto = "invoice-auto"
	// SourceManual tags entries captured by a person.
	SourceManual = "manual"
)

// Entry is a single booked income or expense (Transaktion).
type Entry struct {
	ID           string          `json:"id"`
	ScopeID      string          `json:"scope_id,omitempty"`
	Kind         Kind            `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	Tax          decimal.Decimal `json:"tax"`
	Status       EntryStatus     `json:"status"`
	BookedAt     time.Time       `json:"booked_at"`
	CategoryID   string          `json:"category_id,omitempty"`
	CategoryName string          `json:"category_name,omitempty"`
	Description  string          `json:"description,omitempty"`
	InvoiceID    string          `json:"invoice_id,omitempty"`
	Source       string          `json:"source"`
	Note         string          `json:"note,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SnapshotType distinguishes trusted baselines from derived balances.
type SnapshotType string

const (
	SnapshotManual    SnapshotType = "manual"
	SnapshotAutomatic SnapshotType = "automatic"
)

// Snapshot is a point-in-time cash balance.
type Snapshot struct {
	ID        string          `json:"id"`
	ScopeID   string          `json:"scope_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Type      SnapshotType    `json:"type"`
	TakenAt   time.Time       `json:"taken_at"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Category is an accounting category for ledger entries.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// InvoiceSettlementCategory is the category name for income booked from paid invoices.
const InvoiceSettlementCategory = "Projektabrechnung / Rechnung"

// DefaultIncomeCategory is used when no invoice settlement category is configured.
var DefaultIncomeCategory = Category{ID: "default", Name: InvoiceSettlementCategory, Kind: KindIncome}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	ScopeID   string
	Kind      Kind
	Status    EntryStatus
	InvoiceID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Totals sums non-cancelled income and expense entries.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Count   int
}

// Sum folds entries into Totals, skipping cancelled ones.
func Sum(entries []Entry) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range entries {
		if e.Status == EntryCancelled {
			continue
		}
		switch e.Kind {
		case KindIncome:
			t.Income = t.Income.Add(e.Amount)
		case KindExpense:
			t.Expense = t.Expense.Add(e.Amount)
		default:
			continue
		}
		t.Count++
	}
	return t
}

// RecomputeResult describes one balance recomputation.
type RecomputeResult struct {
	ScopeID  string          `json:"scope_id,omitempty"`
	Skipped  bool            `json:"skipped"`
	Baseline *Snapshot       `json:"baseline,omitempty"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
	Entries  int             `json:"entries"`
	Balance  decimal.Decimal `json:"balance"`
	Deleted  int64           `json:"deleted_snapshots"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
}
