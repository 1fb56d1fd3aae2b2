package dunning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

var (
	// ErrNoticeNotFound indicates the notice does not exist.
	ErrNoticeNotFound = fmt.Errorf("%w: dunning notice", shared.ErrNotFound)
	// ErrChildExists indicates the parent already links a follow-up notice.
	ErrChildExists = fmt.Errorf("%w: notice already has a follow-up", shared.ErrConflict)
)

// Repository persists dunning notices, their history and the number counter.
type Repository interface {
	Get(ctx context.Context, id string) (Notice, error)
	Create(ctx context.Context, n Notice) error
	// Save writes the mutable fields of n and appends entries to its stored history.
	// n.Chronik is not written.
	Save(ctx context.Context, n Notice, entries ...ChronikEntry) error
	// LinkChild sets the parent's child reference only when none is set.
	LinkChild(ctx context.Context, parentID, childID string, entry ChronikEntry) error
	UnlinkChild(ctx context.Context, parentID, childID string, entry ChronikEntry) error
	Delete(ctx context.Context, id string) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]Notice, error)
	List(ctx context.Context, f Filter) ([]Notice, error)
	// NextSequence atomically increments and returns the counter for year.
	NextSequence(ctx context.Context, year int) (int, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const noticeColumns = `id, number, invoice_id, invoice_number, customer_id, customer_name, project_id, scope_id,
	stage, status, issued_at, due_at, original_amount, open_amount, fee, interest, total_claim,
	body, body_version, notes, approval_status, approval_by, approval_at, approval_reason,
	channel, recipient, sent_at, settled_at, parent_id, child_id, chronik, created_by, created_at, updated_at`

func scanNotice(row pgx.Row) (Notice, error) {
	var n Notice
	var projectID, scopeID, notes, approvalBy, approvalReason, channel, recipient, parentID, childID pgtype.Text
	var approvalAt, sentAt, settledAt pgtype.Timestamptz
	var status, approval string
	var chronik []byte
	err := row.Scan(&n.ID, &n.Number, &n.InvoiceID, &n.InvoiceNumber, &n.CustomerID, &n.CustomerName, &projectID, &scopeID,
		&n.Stage, &status, &n.IssuedAt, &n.DueAt, &n.OriginalAmount, &n.OpenAmount, &n.Fee, &n.Interest, &n.TotalClaim,
		&n.Body, &n.BodyVersion, &notes, &approval, &approvalBy, &approvalAt, &approvalReason,
		&channel, &recipient, &sentAt, &settledAt, &parentID, &childID, &chronik, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Notice{}, err
	}
	n.Status = Status(status)
	n.ProjectID = projectID.String
	n.ScopeID = scopeID.String
	n.Notes = notes.String
	n.Approval = Approval{
		Status:    ApprovalStatus(approval),
		DecidedBy: approvalBy.String,
		DecidedAt: timePtr(approvalAt),
		Reason:    approvalReason.String,
	}
	n.Channel = Channel(channel.String)
	n.Recipient = recipient.String
	n.SentAt = timePtr(sentAt)
	n.SettledAt = timePtr(settledAt)
	n.ParentID = parentID.String
	n.ChildID = childID.String
	if len(chronik) > 0 {
		if err := json.Unmarshal(chronik, &n.Chronik); err != nil {
			return Notice{}, fmt.Errorf("decode chronik: %w", err)
		}
	}
	return n, nil
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

func encodeChronik(entries []ChronikEntry) ([]byte, error) {
	if entries == nil {
		entries = []ChronikEntry{}
	}
	return json.Marshal(entries)
}

func (r *pgRepository) Get(ctx context.Context, id string) (Notice, error) {
	n, err := scanNotice(r.pool.QueryRow(ctx, `SELECT `+noticeColumns+` FROM dunning_notices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Notice{}, ErrNoticeNotFound
	}
	if err != nil {
		return Notice{}, fmt.Errorf("dunning: get %s: %w", id, err)
	}
	return n, nil
}

func (r *pgRepository) Create(ctx context.Context, n Notice) error {
	chronik, err := encodeChronik(n.Chronik)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO dunning_notices (`+noticeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
	$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)`,
		n.ID, n.Number, n.InvoiceID, n.InvoiceNumber, n.CustomerID, n.CustomerName, nullText(n.ProjectID), nullText(n.ScopeID),
		n.Stage, string(n.Status), n.IssuedAt, n.DueAt, n.OriginalAmount, n.OpenAmount, n.Fee, n.Interest, n.TotalClaim,
		n.Body, n.BodyVersion, nullText(n.Notes), string(n.Approval.Status), nullText(n.Approval.DecidedBy), n.Approval.DecidedAt, nullText(n.Approval.Reason),
		nullText(string(n.Channel)), nullText(n.Recipient), n.SentAt, n.SettledAt, nullText(n.ParentID), nullText(n.ChildID),
		chronik, n.CreatedBy, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("dunning: create %s: %w", n.Number, err)
	}
	return nil
}

func (r *pgRepository) Save(ctx context.Context, n Notice, entries ...ChronikEntry) error {
	appended, err := encodeChronik(entries)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE dunning_notices
SET status = $2, open_amount = $3, fee = $4, interest = $5, total_claim = $6, body = $7, body_version = $8, notes = $9,
	approval_status = $10, approval_by = $11, approval_at = $12, approval_reason = $13,
	channel = $14, recipient = $15, sent_at = $16, settled_at = $17, updated_at = $18,
	chronik = chronik || $19::jsonb
WHERE id = $1`,
		n.ID, string(n.Status), n.OpenAmount, n.Fee, n.Interest, n.TotalClaim, n.Body, n.BodyVersion, nullText(n.Notes),
		string(n.Approval.Status), nullText(n.Approval.DecidedBy), n.Approval.DecidedAt, nullText(n.Approval.Reason),
		nullText(string(n.Channel)), nullText(n.Recipient), n.SentAt, n.SettledAt, n.UpdatedAt, appended)
	if err != nil {
		return fmt.Errorf("dunning: save %s: %w", n.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoticeNotFound
	}
	return nil
}

func (r *pgRepository) LinkChild(ctx context.Context, parentID, childID string, entry ChronikEntry) error {
	appended, err := encodeChronik([]ChronikEntry{entry})
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE dunning_notices
SET child_id = $2, updated_at = NOW(), chronik = chronik || $3::jsonb
WHERE id = $1 AND child_id IS NULL`, parentID, childID, appended)
	if err != nil {
		return fmt.Errorf("dunning: link child %s: %w", parentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChildExists
	}
	return nil
}

func (r *pgRepository) UnlinkChild(ctx context.Context, parentID, childID string, entry ChronikEntry) error {
	appended, err := encodeChronik([]ChronikEntry{entry})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE dunning_notices
SET child_id = NULL, updated_at = NOW(), chronik = chronik || $3::jsonb
WHERE id = $1 AND child_id = $2`, parentID, childID, appended)
	if err != nil {
		return fmt.Errorf("dunning: unlink child %s: %w", parentID, err)
	}
	return nil
}

func (r *pgRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM dunning_notices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("dunning: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoticeNotFound
	}
	return nil
}

func (r *pgRepository) query(ctx context.Context, query string, args ...any) ([]Notice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *pgRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]Notice, error) {
	out, err := r.query(ctx, `SELECT `+noticeColumns+` FROM dunning_notices WHERE invoice_id = $1 ORDER BY stage, created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("dunning: list by invoice %s: %w", invoiceID, err)
	}
	return out, nil
}

func (r *pgRepository) List(ctx context.Context, f Filter) ([]Notice, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Stage > 0 {
		add("stage = $%d", f.Stage)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.ProjectID != "" {
		add("project_id = $%d", f.ProjectID)
	}
	if f.InvoiceID != "" {
		add("invoice_id = $%d", f.InvoiceID)
	}
	if f.Approval != "" {
		add("approval_status = $%d", string(f.Approval))
	}
	query := `SELECT ` + noticeColumns + ` FROM dunning_notices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	out, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dunning: list: %w", err)
	}
	return out, nil
}

func (r *pgRepository) NextSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.pool.QueryRow(ctx, `INSERT INTO dunning_counters (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = dunning_counters.last_value + 1
RETURNING last_value`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("dunning: next sequence %d: %w", year, err)
	}
	return seq, nil
}
