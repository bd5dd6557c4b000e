package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SeedAccounts bulk-inserts one account per user id with the given balance
// using COPY. Users that already have an account make the whole batch fail.
func (p *Postgres) SeedAccounts(ctx context.Context, userIDs []int64, balance decimal.Decimal) (int64, error) {
	if balance.IsNegative() {
		return 0, domain.ErrInvalidAmount
	}
	if err := domain.ValidateMoney(balance); err != nil {
		return 0, err
	}
	opening := pgtype.Numeric{Int: balance.Coefficient(), Exp: balance.Exponent(), Valid: true}
	now := time.Now()

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"user_id", "balance", "created_at"},
		pgx.CopyFromSlice(len(userIDs), func(i int) ([]any, error) {
			return []any{userIDs[i], opening, now}, nil
		}),
	)
	if err != nil {
		return 0, classify(fmt.Errorf("bulk insert failed: %w", err))
	}
	return n, nil
}

// MaxUserID is the highest user id that owns an account, or 0 when there are none.
func (p *Postgres) MaxUserID(ctx context.Context) (int64, error) {
	var highest int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(user_id), 0) FROM accounts`).Scan(&highest); err != nil {
		return 0, classify(fmt.Errorf("max user id: %w", err))
	}
	return highest, nil
}
