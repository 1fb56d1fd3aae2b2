package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// ErrInvoiceNotFound indicates the invoice does not exist.
var ErrInvoiceNotFound = fmt.Errorf("%w: invoice", shared.ErrNotFound)

// ErrCustomerNotFound indicates the invoice customer does not exist.
var ErrCustomerNotFound = fmt.Errorf("%w: customer", shared.ErrNotFound)

// Repository provides access to invoices and the customer/project flags around them.
type Repository interface {
	Get(ctx context.Context, id string) (Invoice, error)
	ApplyPayment(ctx context.Context, id string, update PaymentUpdate) (Invoice, error)
	// SetDunningStage records the current escalation marker; a nil at clears the last dunning date.
	SetDunningStage(ctx context.Context, id string, stage int, at *time.Time) error
	// ClaimIncomeEntry sets the income back-reference only when none is set.
	ClaimIncomeEntry(ctx context.Context, id, entryID string) (bool, error)
	// ReleaseIncomeEntry clears the back-reference when it still points at entryID.
	ReleaseIncomeEntry(ctx context.Context, id, entryID string) error
	ListByProject(ctx context.Context, projectID string) ([]Invoice, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error)
	UpdateProjectTotals(ctx context.Context, projectID string, totals ProjectTotals) error
	Eligibility(ctx context.Context, customerID, projectID string) (Eligibility, error)
	BlockCustomerDunning(ctx context.Context, customerID, reason, actor string) error
	// CustomerEmail returns the stored address, empty when none is on file.
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const selectInvoice = `SELECT id, number, customer_id, customer_name, project_id, scope_id,
	gross, net, tax, tax_rate, paid_amount, status, dunning_stage, last_dunning_at,
	issued_at, due_at, paid_at, payment_note, auto_income_created, income_entry_id,
	created_at, updated_at
FROM invoices`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var projectID, scopeID, note, incomeID pgtype.Text
	var lastDunning, dueAt, paidAt pgtype.Timestamptz
	var status string
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &projectID, &scopeID,
		&inv.Gross, &inv.Net, &inv.Tax, &inv.TaxRate, &inv.PaidAmount, &status, &inv.DunningStage, &lastDunning,
		&inv.IssuedAt, &dueAt, &paidAt, &note, &inv.AutoIncomeCreated, &incomeID,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = Status(status)
	inv.ProjectID = projectID.String
	inv.ScopeID = scopeID.String
	inv.PaymentNote = note.String
	inv.IncomeEntryID = incomeID.String
	inv.LastDunningAt = timePtr(lastDunning)
	inv.DueAt = timePtr(dueAt)
	inv.PaidAt = timePtr(paidAt)
	return inv, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (r *pgRepository) Get(ctx context.Context, id string) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, selectInvoice+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: get %s: %w", id, err)
	}
	return inv, nil
}

func (r *pgRepository) ApplyPayment(ctx context.Context, id string, update PaymentUpdate) (Invoice, error) {
	var paidAmount any
	if update.PaidAmount != nil {
		paidAmount = *update.PaidAmount
	} else {
		paidAmount = decimal.Zero
	}
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `UPDATE invoices
SET status = $2, paid_at = $3, paid_amount = $4, payment_note = $5, updated_at = NOW()
WHERE id = $1
RETURNING id, number, customer_id, customer_name, project_id, scope_id,
	gross, net, tax, tax_rate, paid_amount, status, dunning_stage, last_dunning_at,
	issued_at, due_at, paid_at, payment_note, auto_income_created, income_entry_id,
	created_at, updated_at`,
		id, string(update.Status), update.PaidAt, paidAmount, nullText(update.PaymentNote),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: apply payment %s: %w", id, err)
	}
	return inv, nil
}

func (r *pgRepository) SetDunningStage(ctx context.Context, id string, stage int, at *time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET dunning_stage = $2, last_dunning_at = $3, updated_at = NOW() WHERE id = $1`, id, stage, at)
	if err != nil {
		return fmt.Errorf("invoices: set dunning stage %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *pgRepository) ClaimIncomeEntry(ctx context.Context, id, entryID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices
SET income_entry_id = $2, auto_income_created = true, updated_at = NOW()
WHERE id = $1 AND income_entry_id IS NULL`, id, entryID)
	if err != nil {
		return false, fmt.Errorf("invoices: claim income entry %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) ReleaseIncomeEntry(ctx context.Context, id, entryID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE invoices
SET income_entry_id = NULL, auto_income_created = false, updated_at = NOW()
WHERE id = $1 AND income_entry_id = $2`, id, entryID)
	if err != nil {
		return fmt.Errorf("invoices: release income entry %s: %w", id, err)
	}
	return nil
}

func (r *pgRepository) list(ctx context.Context, where string, args ...any) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, selectInvoice+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *pgRepository) ListByProject(ctx context.Context, projectID string) ([]Invoice, error) {
	out, err := r.list(ctx, `WHERE project_id = $1 ORDER BY issued_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list by project %s: %w", projectID, err)
	}
	return out, nil
}

func (r *pgRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error) {
	out, err := r.list(ctx, `WHERE due_at < $1
	AND status IN ('draft', 'sent', 'open', 'partially_paid', 'overdue')
	AND dunning_stage < 3
ORDER BY due_at`, asOf)
	if err != nil {
		return nil, fmt.Errorf("invoices: list overdue: %w", err)
	}
	return out, nil
}

func (r *pgRepository) UpdateProjectTotals(ctx context.Context, projectID string, totals ProjectTotals) error {
	_, err := r.pool.Exec(ctx, `UPDATE projects SET open_balance = $2, billed_total = $3, updated_at = NOW() WHERE id = $1`,
		projectID, totals.OpenBalance, totals.Billed)
	if err != nil {
		return fmt.Errorf("invoices: update project totals %s: %w", projectID, err)
	}
	return nil
}

func (r *pgRepository) Eligibility(ctx context.Context, customerID, projectID string) (Eligibility, error) {
	e := Eligibility{CustomerID: customerID}
	var reason pgtype.Text
	err := r.pool.QueryRow(ctx, `SELECT dunning_allowed, dunning_block_reason FROM customers WHERE id = $1`, customerID).
		Scan(&e.DunningAllowed, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Eligibility{}, ErrCustomerNotFound
	}
	if err != nil {
		return Eligibility{}, fmt.Errorf("invoices: customer eligibility %s: %w", customerID, err)
	}
	e.BlockReason = reason.String
	if projectID == "" {
		return e, nil
	}
	var override pgtype.Bool
	err = r.pool.QueryRow(ctx, `SELECT dunning_override_allowed FROM projects WHERE id = $1`, projectID).Scan(&override)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Eligibility{}, fmt.Errorf("invoices: project override %s: %w", projectID, err)
	}
	e.ProjectOverride = override.Valid && override.Bool
	return e, nil
}

func (r *pgRepository) BlockCustomerDunning(ctx context.Context, customerID, reason, actor string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers
SET dunning_allowed = false, dunning_block_reason = $2, dunning_blocked_by = $3, dunning_blocked_at = NOW()
WHERE id = $1`, customerID, reason, actor)
	if err != nil {
		return fmt.Errorf("invoices: block customer %s: %w", customerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *pgRepository) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	var email pgtype.Text
	err := r.pool.QueryRow(ctx, `SELECT email FROM customers WHERE id = $1`, customerID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("invoices: customer email %s: %w", customerID, err)
	}
	return email.String, nil
}
