package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/punchamoorthee/tenmo-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// Reader is the read side of a store. It has no way to mutate anything.
type Reader interface {
	store.AccountReader
	store.TransferReader
}

// QueryService answers read-only questions about a user's money. Every
// answer reflects committed state only.
type QueryService struct {
	store Reader
}

func NewQueryService(r Reader) *QueryService {
	return &QueryService{store: r}
}

func (q *QueryService) Account(ctx context.Context, userID int64) (domain.Account, error) {
	return q.store.AccountByOwner(ctx, userID)
}

// AccountByID looks an account up by its own id, so the parties of a
// transfer can be mapped to their owners.
func (q *QueryService) AccountByID(ctx context.Context, accountID int64) (domain.Account, error) {
	return q.store.Account(ctx, accountID)
}

// Accounts is the directory of all accounts, ordered by id.
func (q *QueryService) Accounts(ctx context.Context) ([]domain.Account, error) {
	return q.store.Accounts(ctx)
}

func (q *QueryService) BalanceOf(ctx context.Context, userID int64) (decimal.Decimal, error) {
	acc, err := q.store.AccountByOwner(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return acc.Balance, nil
}

// TransferHistory lists every transfer the user's account sent or received, newest first.
func (q *QueryService) TransferHistory(ctx context.Context, userID int64) ([]domain.Transfer, error) {
	acc, err := q.store.AccountByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return q.store.TransfersByAccount(ctx, acc.ID)
}

// PendingRequestsFor lists the requests waiting for the user to pay or reject.
func (q *QueryService) PendingRequestsFor(ctx context.Context, userID int64) ([]domain.Transfer, error) {
	acc, err := q.store.AccountByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return q.store.PendingByAccount(ctx, acc.ID)
}

// Transfer returns one transfer, visible only to the owners of its two accounts.
func (q *QueryService) Transfer(ctx context.Context, userID, transferID int64) (domain.Transfer, error) {
	t, err := q.store.Transfer(ctx, transferID)
	if err != nil {
		return domain.Transfer{}, err
	}
	acc, err := q.store.AccountByOwner(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !t.Involves(acc.ID)) {
		return domain.Transfer{}, domain.ErrForbidden
	}
	if err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}
