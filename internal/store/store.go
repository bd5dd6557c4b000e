// Package store holds the account and transfer stores. Balance mutations and
// transfer writes are only reachable through Tx, so they always run inside one
// atomic unit.
package store

import (
	"context"
	"slices"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

type AccountReader interface {
	Account(ctx context.Context, id int64) (domain.Account, error)
	AccountByOwner(ctx context.Context, userID int64) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
}

type TransferReader interface {
	Transfer(ctx context.Context, id int64) (domain.Transfer, error)
	// TransfersByAccount lists transfers where the account is either side, newest first.
	TransfersByAccount(ctx context.Context, accountID int64) ([]domain.Transfer, error)
	// PendingByAccount lists pending transfers the account is asked to pay, newest first.
	PendingByAccount(ctx context.Context, accountID int64) ([]domain.Transfer, error)
}

// Tx is a transactional handle. Everything done through it commits or rolls
// back together.
type Tx interface {
	AccountReader
	TransferReader

	// LockAccounts takes exclusive locks on the accounts in ascending id order
	// and holds them until the transaction ends. Fails with
	// domain.ErrLockTimeout when the locks cannot be acquired in time.
	LockAccounts(ctx context.Context, ids ...int64) error

	// AdjustBalance adds delta to the balance and returns the updated account.
	// A result below zero fails with domain.ErrInsufficientFunds and changes nothing.
	AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (domain.Account, error)

	CreateTransfer(ctx context.Context, t domain.Transfer) (int64, error)
	// SetTransferStatus fails with domain.ErrInvalidState unless
	// domain.CanTransition allows the move from the stored status.
	SetTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error
}

type Store interface {
	AccountReader
	TransferReader

	CreateAccount(ctx context.Context, userID int64, opening decimal.Decimal) (domain.Account, error)

	// WithTx runs fn in a transaction, committing if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close()
}

// SortedUnique returns ids ascending with duplicates removed: the lock order.
func SortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
