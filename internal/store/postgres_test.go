package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// newTestPostgres connects to TEST_DB_SOURCE, migrates and empties the
// tables. Tests using it are skipped when the variable is unset.
func newTestPostgres(t *testing.T, lockTimeout time.Duration) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()

	p, err := NewPostgres(ctx, dsn, lockTimeout)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(p.Close)

	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Running it twice must be a no-op.
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if _, err := p.pool.Exec(ctx, `TRUNCATE transfers, accounts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

func seedPair(t *testing.T, s Store) (domain.Account, domain.Account) {
	t.Helper()
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, 1001, decimal.RequireFromString("1000.00"))
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	b, err := s.CreateAccount(ctx, 1002, decimal.RequireFromString("1000.00"))
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a, b
}

func TestPostgresAccounts(t *testing.T) {
	p := newTestPostgres(t, time.Second)
	a, _ := seedPair(t, p)
	ctx := context.Background()

	if _, err := p.CreateAccount(ctx, 1001, decimal.Zero); !errors.Is(err, domain.ErrAccountExists) {
		t.Fatalf("duplicate owner: err = %v, want ErrAccountExists", err)
	}
	got, err := p.AccountByOwner(ctx, 1001)
	if err != nil {
		t.Fatalf("AccountByOwner: %v", err)
	}
	if got.ID != a.ID || got.Balance.StringFixed(2) != "1000.00" {
		t.Errorf("AccountByOwner = %+v", got)
	}
	if _, err := p.Account(ctx, 999999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown account: err = %v", err)
	}
	all, err := p.Accounts(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("Accounts = %+v, %v", all, err)
	}
}

func TestPostgresTransferLifecycle(t *testing.T) {
	p := newTestPostgres(t, time.Second)
	a, b := seedPair(t, p)
	ctx := context.Background()

	var id int64
	err := p.WithTx(ctx, func(tx Tx) error {
		var err error
		id, err = tx.CreateTransfer(ctx, domain.Transfer{
			Type: domain.TypeRequest, Status: domain.StatusPending,
			FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.RequireFromString("50.00"),
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := p.PendingByAccount(ctx, a.ID)
	if err != nil || len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("PendingByAccount = %+v, %v", pending, err)
	}
	if list, _ := p.PendingByAccount(ctx, b.ID); len(list) != 0 {
		t.Errorf("requester sees own request as pending: %+v", list)
	}

	err = p.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockAccounts(ctx, b.ID, a.ID); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, a.ID, decimal.RequireFromString("-50.00")); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, b.ID, decimal.RequireFromString("50.00")); err != nil {
			return err
		}
		return tx.SetTransferStatus(ctx, id, domain.StatusApproved)
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, _ := p.Transfer(ctx, id)
	if got.Status != domain.StatusApproved || got.Amount.StringFixed(2) != "50.00" {
		t.Errorf("Transfer = %+v", got)
	}
	accA, _ := p.Account(ctx, a.ID)
	accB, _ := p.Account(ctx, b.ID)
	if accA.Balance.StringFixed(2) != "950.00" || accB.Balance.StringFixed(2) != "1050.00" {
		t.Errorf("balances = %s / %s", accA.Balance, accB.Balance)
	}

	err = p.WithTx(ctx, func(tx Tx) error {
		return tx.SetTransferStatus(ctx, id, domain.StatusRejected)
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second resolve: err = %v, want ErrInvalidState", err)
	}
}

func TestPostgresAdjustBalanceRejectsOverdraw(t *testing.T) {
	p := newTestPostgres(t, time.Second)
	a, _ := seedPair(t, p)
	ctx := context.Background()

	err := p.WithTx(ctx, func(tx Tx) error {
		_, err := tx.AdjustBalance(ctx, a.ID, decimal.RequireFromString("-1000.01"))
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	err = p.WithTx(ctx, func(tx Tx) error {
		_, err := tx.AdjustBalance(ctx, 999999, decimal.NewFromInt(1))
		return err
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestPostgresCreditAboveColumnMaximum(t *testing.T) {
	p := newTestPostgres(t, time.Second)
	a, _ := seedPair(t, p)
	ctx := context.Background()

	err := p.WithTx(ctx, func(tx Tx) error {
		_, err := tx.AdjustBalance(ctx, a.ID, decimal.RequireFromString("99999999000.00"))
		return err
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	acc, _ := p.Account(ctx, a.ID)
	if acc.Balance.StringFixed(2) != "1000.00" {
		t.Errorf("balance = %s, want unchanged", acc.Balance)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, domain.ErrLockTimeout},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, domain.ErrLockTimeout},
		{"duplicate owner", &pgconn.PgError{Code: "23505", TableName: "accounts"}, domain.ErrAccountExists},
		{"numeric overflow", &pgconn.PgError{Code: "22003"}, domain.ErrInvalidAmount},
		{"negative balance", &pgconn.PgError{Code: "23514", ConstraintName: "accounts_balance_check"}, domain.ErrInsufficientFunds},
		{"unknown", &pgconn.PgError{Code: "XX000"}, domain.ErrStoreUnavailable},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(fmt.Errorf("wrapped: %w", tt.err)); !errors.Is(got, tt.want) {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostgresConcurrentResolveOneWins(t *testing.T) {
	p := newTestPostgres(t, 5*time.Second)
	a, b := seedPair(t, p)
	ctx := context.Background()

	var id int64
	_ = p.WithTx(ctx, func(tx Tx) error {
		var err error
		id, err = tx.CreateTransfer(ctx, domain.Transfer{
			Type: domain.TypeRequest, Status: domain.StatusPending,
			FromAccountID: a.ID, ToAccountID: b.ID, Amount: decimal.NewFromInt(10),
		})
		return err
	})

	results := make([]error, 2)
	var g errgroup.Group
	for i, status := range []domain.TransferStatus{domain.StatusApproved, domain.StatusRejected} {
		i, status := i, status
		g.Go(func() error {
			results[i] = p.WithTx(ctx, func(tx Tx) error {
				return tx.SetTransferStatus(ctx, id, status)
			})
			return nil
		})
	}
	_ = g.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, domain.ErrInvalidState):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1 (%v)", wins, results)
	}
}

func TestPostgresLockTimeout(t *testing.T) {
	p := newTestPostgres(t, 100*time.Millisecond)
	a, _ := seedPair(t, p)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return p.WithTx(ctx, func(tx Tx) error {
			if err := tx.LockAccounts(ctx, a.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	})
	<-held

	err := p.WithTx(ctx, func(tx Tx) error {
		return tx.LockAccounts(ctx, a.ID)
	})
	close(release)
	if err := g.Wait(); err != nil {
		t.Fatalf("holder: %v", err)
	}
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestPostgresSeedAccounts(t *testing.T) {
	p := newTestPostgres(t, time.Second)
	ctx := context.Background()

	n, err := p.SeedAccounts(ctx, []int64{10, 11, 12}, decimal.RequireFromString("100.00"))
	if err != nil || n != 3 {
		t.Fatalf("SeedAccounts = %d, %v", n, err)
	}
	highest, err := p.MaxUserID(ctx)
	if err != nil || highest != 12 {
		t.Errorf("MaxUserID = %d, %v", highest, err)
	}
	acc, err := p.AccountByOwner(ctx, 11)
	if err != nil || acc.Balance.StringFixed(2) != "100.00" {
		t.Errorf("seeded account = %+v, %v", acc, err)
	}
	if _, err := p.SeedAccounts(ctx, []int64{12}, decimal.Zero); !errors.Is(err, domain.ErrAccountExists) {
		t.Errorf("reseed: err = %v, want ErrAccountExists", err)
	}
}
