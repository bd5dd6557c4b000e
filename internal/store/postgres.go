package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	accountColumns  = `account_id, user_id, balance::text, created_at`
	transferColumns = `transfer_id, transfer_type_id, transfer_status_id, account_from, account_to, amount::text, created_at, updated_at`
)

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the Store backed by a pgx connection pool.
type Postgres struct {
	reader
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgres(ctx context.Context, connString string, lockTimeout time.Duration) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{reader: reader{q: pool}, pool: pool, lockTimeout: lockTimeout}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}

func (p *Postgres) CreateAccount(ctx context.Context, userID int64, opening decimal.Decimal) (domain.Account, error) {
	if opening.IsNegative() {
		return domain.Account{}, domain.ErrInvalidAmount
	}
	if err := domain.ValidateMoney(opening); err != nil {
		return domain.Account{}, err
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2) RETURNING `+accountColumns,
		userID, opening.StringFixed(domain.MoneyScale))
	acc, err := scanAccount(row)
	if err != nil {
		return domain.Account{}, classify(fmt.Errorf("create account: %w", err))
	}
	return acc, nil
}

// WithTx runs fn in a READ COMMITTED transaction whose lock waits are capped
// at the configured lock timeout.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	timeout := fmt.Sprintf("%dms", p.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return classify(fmt.Errorf("set lock_timeout: %w", err))
	}

	if err := fn(&pgTx{reader: reader{q: tx}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

type reader struct {
	q querier
}

func (r reader) Account(ctx context.Context, id int64) (domain.Account, error) {
	acc, err := scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, classify(fmt.Errorf("get account %d: %w", id, err))
	}
	return acc, nil
}

func (r reader) AccountByOwner(ctx context.Context, userID int64) (domain.Account, error) {
	acc, err := scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, classify(fmt.Errorf("get account of user %d: %w", userID, err))
	}
	return acc, nil
}

func (r reader) Accounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list accounts: %w", err))
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("list accounts: %w", err))
	}
	return accounts, nil
}

func (r reader) Transfer(ctx context.Context, id int64) (domain.Transfer, error) {
	return r.transfer(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_id = $1`, id)
}

func (r reader) transfer(ctx context.Context, query string, id int64) (domain.Transfer, error) {
	t, err := scanTransfer(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transfer{}, domain.ErrTransferNotFound
	}
	if err != nil {
		return domain.Transfer{}, classify(fmt.Errorf("get transfer %d: %w", id, err))
	}
	return t, nil
}

func (r reader) TransfersByAccount(ctx context.Context, accountID int64) ([]domain.Transfer, error) {
	return r.transfers(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE account_from = $1 OR account_to = $1
		 ORDER BY transfer_id DESC`, accountID)
}

func (r reader) PendingByAccount(ctx context.Context, accountID int64) ([]domain.Transfer, error) {
	return r.transfers(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE account_from = $1 AND transfer_status_id = $2
		 ORDER BY transfer_id DESC`, accountID, int16(domain.StatusPending))
}

func (r reader) transfers(ctx context.Context, query string, args ...any) ([]domain.Transfer, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list transfers: %w", err))
	}
	transfers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transfer, error) {
		return scanTransfer(row)
	})
	if err != nil {
		return nil, classify(fmt.Errorf("list transfers: %w", err))
	}
	return transfers, nil
}

type pgTx struct {
	reader
	tx pgx.Tx
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) error {
	// Ascending id order, so two transactions touching the same pair never deadlock.
	for _, id := range SortedUnique(ids) {
		var locked int64
		err := t.tx.QueryRow(ctx,
			`SELECT account_id FROM accounts WHERE account_id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return classify(fmt.Errorf("lock account %d: %w", id, err))
		}
	}
	return nil
}

// Transfer re-reads the row under FOR UPDATE so the status seen is the one
// that will be overwritten.
func (t *pgTx) Transfer(ctx context.Context, id int64) (domain.Transfer, error) {
	return t.transfer(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_id = $1 FOR UPDATE`, id)
}

func (t *pgTx) AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (domain.Account, error) {
	if err := domain.ValidateMoney(delta); err != nil {
		return domain.Account{}, err
	}
	acc, err := scanAccount(t.tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2
		 WHERE account_id = $1 AND balance + $2 >= 0
		 RETURNING `+accountColumns,
		accountID, delta.String()))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, classify(fmt.Errorf("adjust balance of account %d: %w", accountID, err))
	}

	// No row updated: either the account is missing or the debit would overdraw it.
	if _, err := t.Account(ctx, accountID); err != nil {
		return domain.Account{}, err
	}
	return domain.Account{}, domain.ErrInsufficientFunds
}

func (t *pgTx) CreateTransfer(ctx context.Context, tr domain.Transfer) (int64, error) {
	if err := tr.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO transfers (transfer_type_id, transfer_status_id, account_from, account_to, amount)
		 VALUES ($1, $2, $3, $4, $5) RETURNING transfer_id`,
		int16(tr.Type), int16(tr.Status), tr.FromAccountID, tr.ToAccountID, tr.Amount.String(),
	).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("transfer insert failed: %w", err))
	}
	return id, nil
}

func (t *pgTx) SetTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error {
	if !domain.CanTransition(domain.StatusPending, status) {
		return fmt.Errorf("%w: cannot move to %s", domain.ErrInvalidState, status)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE transfers SET transfer_status_id = $2, updated_at = NOW()
		 WHERE transfer_id = $1 AND transfer_status_id = $3`,
		id, int16(status), int16(domain.StatusPending))
	if err != nil {
		return classify(fmt.Errorf("update transfer %d status: %w", id, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, err := t.reader.Transfer(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transfer %d already %s", domain.ErrInvalidState, id, cur.Status)
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc     domain.Account
		balance string
	)
	if err := row.Scan(&acc.ID, &acc.UserID, &balance, &acc.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	acc.Balance = parsed
	return acc, nil
}

func scanTransfer(row pgx.Row) (domain.Transfer, error) {
	var (
		t              domain.Transfer
		typeID, status int16
		amount         string
	)
	if err := row.Scan(&t.ID, &typeID, &status, &t.FromAccountID, &t.ToAccountID, &amount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Transfer{}, err
	}
	t.Type = domain.TransferType(typeID)
	if !t.Type.Valid() {
		return domain.Transfer{}, fmt.Errorf("%w: %d", domain.ErrInvalidType, typeID)
	}
	t.Status = domain.TransferStatus(status)
	if !t.Status.Valid() {
		return domain.Transfer{}, fmt.Errorf("%w: %d", domain.ErrInvalidStatus, status)
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.Amount = parsed
	return t, nil
}

// classify maps Postgres failures onto the domain errors callers match on.
// Anything unrecognised is reported as ErrStoreUnavailable.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, domain.ErrInvalidType) || errors.Is(err, domain.ErrInvalidStatus) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
		case "23505":
			if pgErr.TableName == "accounts" {
				return domain.ErrAccountExists
			}
		case "23503":
			return domain.ErrAccountNotFound
		case "22003": // numeric_value_out_of_range: the column ceiling
			return fmt.Errorf("%w: exceeds %s", domain.ErrInvalidAmount, domain.MaxAmount.StringFixed(domain.MoneyScale))
		case "23514":
			switch pgErr.ConstraintName {
			case "accounts_balance_check":
				return domain.ErrInsufficientFunds
			case "transfers_distinct_accounts":
				return domain.ErrSelfTransfer
			case "transfers_amount_check":
				return domain.ErrInvalidAmount
			}
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
