package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/db"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// ErrNoActiveSettings indicates no settings record is marked active.
var ErrNoActiveSettings = fmt.Errorf("%w: active dunning settings", shared.ErrNotFound)

// Repository persists dunning settings.
type Repository interface {
	Active(ctx context.Context) (DunningSettings, error)
	Save(ctx context.Context, s DunningSettings) (DunningSettings, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const selectSettings = `SELECT id, fee_stage1, fee_stage2, fee_stage3,
	term_stage1, term_stage2, term_stage3, interest_rate,
	text_stage1, text_stage2, text_stage3, active, updated_at
FROM dunning_settings`

func (r *pgRepository) Active(ctx context.Context) (DunningSettings, error) {
	var s DunningSettings
	err := r.pool.QueryRow(ctx, selectSettings+` WHERE active ORDER BY updated_at DESC LIMIT 1`).Scan(
		&s.ID, &s.Fees[0], &s.Fees[1], &s.Fees[2],
		&s.TermDays[0], &s.TermDays[1], &s.TermDays[2], &s.InterestRate,
		&s.Texts[0], &s.Texts[1], &s.Texts[2], &s.Active, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DunningSettings{}, ErrNoActiveSettings
	}
	if err != nil {
		return DunningSettings{}, fmt.Errorf("settings: load active: %w", err)
	}
	return s, nil
}

// Save stores s as the only active record.
func (r *pgRepository) Save(ctx context.Context, s DunningSettings) (DunningSettings, error) {
	s.ID = uuid.NewString()
	s.Active = true
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE dunning_settings SET active = false WHERE active`); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `INSERT INTO dunning_settings (
	id, fee_stage1, fee_stage2, fee_stage3, term_stage1, term_stage2, term_stage3,
	interest_rate, text_stage1, text_stage2, text_stage3, active, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, NOW())
RETURNING updated_at`,
			s.ID, s.Fees[0], s.Fees[1], s.Fees[2], s.TermDays[0], s.TermDays[1], s.TermDays[2],
			s.InterestRate, s.Texts[0], s.Texts[1], s.Texts[2],
		).Scan(&s.UpdatedAt)
	})
	if err != nil {
		return DunningSettings{}, fmt.Errorf("settings: save: %w", err)
	}
	return s, nil
}
