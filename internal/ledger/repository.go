package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/db"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

var (
	// ErrEntryNotFound indicates the ledger entry does not exist.
	ErrEntryNotFound = fmt.Errorf("%w: ledger entry", shared.ErrNotFound)
	// ErrNoBaseline indicates no manual snapshot exists in scope.
	ErrNoBaseline = fmt.Errorf("%w: manual balance snapshot", shared.ErrNotFound)
	// ErrCategoryNotFound indicates the category lookup found nothing.
	ErrCategoryNotFound = fmt.Errorf("%w: category", shared.ErrNotFound)
	// ErrDuplicateInvoiceIncome indicates a booked automatic income already exists for the invoice.
	ErrDuplicateInvoiceIncome = fmt.Errorf("%w: invoice already has a booked automatic income entry", shared.ErrConflict)
)

// Repository persists ledger entries and balance snapshots.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CreateEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, id string) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)

	CreateSnapshot(ctx context.Context, s Snapshot) error
	ListSnapshots(ctx context.Context, scopeID string, limit int) ([]Snapshot, error)

	CategoryByName(ctx context.Context, kind Kind, name string) (Category, error)
}

// TxRepository exposes the reads and writes of one balance recomputation.
type TxRepository interface {
	LatestManualSnapshot(ctx context.Context, scopeID string) (Snapshot, error)
	// EntriesAfter returns non-cancelled entries booked strictly after the given time.
	EntriesAfter(ctx context.Context, scopeID string, after time.Time) ([]Entry, error)
	DeleteAutomaticSnapshotsAfter(ctx context.Context, scopeID string, after time.Time) (int64, error)
	CreateSnapshot(ctx context.Context, s Snapshot) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{q: tx})
	})
}

const entryColumns = `id, scope_id, kind, amount, net_amount, tax, status, booked_at,
	category_id, category_name, description, invoice_id, source, note, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var scope, categoryID, categoryName, description, invoiceID, note pgtype.Text
	var kind, status string
	err := row.Scan(&e.ID, &scope, &kind, &e.Amount, &e.NetAmount, &e.Tax, &status, &e.BookedAt,
		&categoryID, &categoryName, &description, &invoiceID, &e.Source, &note, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Status = EntryStatus(status)
	e.ScopeID = scope.String
	e.CategoryID = categoryID.String
	e.CategoryName = categoryName.String
	e.Description = description.String
	e.InvoiceID = invoiceID.String
	e.Note = note.String
	return e, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (r *pgRepository) CreateEntry(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, nullText(e.ScopeID), string(e.Kind), e.Amount, e.NetAmount, e.Tax, string(e.Status), e.BookedAt,
		nullText(e.CategoryID), nullText(e.CategoryName), nullText(e.Description), nullText(e.InvoiceID),
		e.Source, nullText(e.Note), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrDuplicateInvoiceIncome
	}
	if err != nil {
		return fmt.Errorf("ledger: create entry: %w", err)
	}
	return nil
}

func (r *pgRepository) GetEntry(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get entry %s: %w", id, err)
	}
	return e, nil
}

func (r *pgRepository) UpdateEntry(ctx context.Context, e Entry) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ledger_entries
SET kind = $2, amount = $3, net_amount = $4, tax = $5, status = $6, booked_at = $7,
	category_id = $8, category_name = $9, description = $10, note = $11, updated_at = $12
WHERE id = $1`,
		e.ID, string(e.Kind), e.Amount, e.NetAmount, e.Tax, string(e.Status), e.BookedAt,
		nullText(e.CategoryID), nullText(e.CategoryName), nullText(e.Description), nullText(e.Note), e.UpdatedAt)
	if shared.IsUniqueViolation(err) {
		return ErrDuplicateInvoiceIncome
	}
	if err != nil {
		return fmt.Errorf("ledger: update entry %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *pgRepository) DeleteEntry(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *pgRepository) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ScopeID != "" {
		add("scope_id = $%d", f.ScopeID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.InvoiceID != "" {
		add("invoice_id = $%d", f.InvoiceID)
	}
	if !f.From.IsZero() {
		add("booked_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("booked_at <= $%d", f.To)
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY booked_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	entries, err := queryEntries(ctx, r.pool, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	return entries, nil
}

func queryEntries(ctx context.Context, q db.Querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const snapshotColumns = `id, scope_id, amount, type, taken_at, note, created_by, created_at`

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	var scope, note pgtype.Text
	var typ string
	if err := row.Scan(&s.ID, &scope, &s.Amount, &typ, &s.TakenAt, &note, &s.CreatedBy, &s.CreatedAt); err != nil {
		return Snapshot{}, err
	}
	s.ScopeID = scope.String
	s.Note = note.String
	s.Type = SnapshotType(typ)
	return s, nil
}

func insertSnapshot(ctx context.Context, q db.Querier, s Snapshot) error {
	_, err := q.Exec(ctx, `INSERT INTO balance_snapshots (`+snapshotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, nullText(s.ScopeID), s.Amount, string(s.Type), s.TakenAt, nullText(s.Note), s.CreatedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert snapshot: %w", err)
	}
	return nil
}

func (r *pgRepository) CreateSnapshot(ctx context.Context, s Snapshot) error {
	return insertSnapshot(ctx, r.pool, s)
}

func (r *pgRepository) ListSnapshots(ctx context.Context, scopeID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM balance_snapshots
WHERE ($1 = '' OR scope_id = $1)
ORDER BY taken_at DESC LIMIT $2`, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list snapshots: %w", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *pgRepository) CategoryByName(ctx context.Context, kind Kind, name string) (Category, error) {
	var c Category
	var k string
	err := r.pool.QueryRow(ctx, `SELECT id, name, kind FROM finance_categories WHERE kind = $1 AND name = $2 LIMIT 1`,
		string(kind), name).Scan(&c.ID, &c.Name, &k)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrCategoryNotFound
	}
	if err != nil {
		return Category{}, fmt.Errorf("ledger: category %q: %w", name, err)
	}
	c.Kind = Kind(k)
	return c, nil
}

func (t *pgTxRepository) LatestManualSnapshot(ctx context.Context, scopeID string) (Snapshot, error) {
	s, err := scanSnapshot(t.q.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM balance_snapshots
WHERE type = 'manual' AND ($1 = '' OR scope_id = $1)
ORDER BY taken_at DESC LIMIT 1`, scopeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNoBaseline
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: latest manual snapshot: %w", err)
	}
	return s, nil
}

func (t *pgTxRepository) EntriesAfter(ctx context.Context, scopeID string, after time.Time) ([]Entry, error) {
	entries, err := queryEntries(ctx, t.q, `SELECT `+entryColumns+` FROM ledger_entries
WHERE booked_at > $2 AND status <> 'cancelled' AND ($1 = '' OR scope_id = $1)`, scopeID, after)
	if err != nil {
		return nil, fmt.Errorf("ledger: entries after baseline: %w", err)
	}
	return entries, nil
}

func (t *pgTxRepository) DeleteAutomaticSnapshotsAfter(ctx context.Context, scopeID string, after time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM balance_snapshots
WHERE type = 'automatic' AND taken_at > $2 AND ($1 = '' OR scope_id = $1)`, scopeID, after)
	if err != nil {
		return 0, fmt.Errorf("ledger: delete automatic snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTxRepository) CreateSnapshot(ctx context.Context, s Snapshot) error {
	return insertSnapshot(ctx, t.q, s)
}
