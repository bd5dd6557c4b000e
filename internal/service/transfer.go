package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/punchamoorthee/tenmo-ledger/internal/store"
	"github.com/punchamoorthee/tenmo-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

// LedgerService owns every operation that creates transfers or moves money.
type LedgerService struct {
	store   store.Store
	opening decimal.Decimal
}

func NewLedgerService(s store.Store, opening decimal.Decimal) *LedgerService {
	return &LedgerService{store: s, opening: opening}
}

// OpenAccount gives a newly registered user their account with the starting balance.
func (s *LedgerService) OpenAccount(ctx context.Context, userID int64) (acc domain.Account, err error) {
	start := time.Now()
	defer func() {
		record("open_account", start, err, logger.Int64("user_id", userID), logger.Int64("account_id", acc.ID))
	}()

	return s.store.CreateAccount(ctx, userID, s.opening)
}

// Send debits the initiator and credits the recipient in one transaction and
// records the transfer as Approved.
func (s *LedgerService) Send(ctx context.Context, initiatorUserID, recipientUserID int64, amount decimal.Decimal) (t domain.Transfer, err error) {
	start := time.Now()
	defer func() {
		record("send", start, err,
			logger.Int64("from_user_id", initiatorUserID),
			logger.Int64("to_user_id", recipientUserID),
			amountField(amount),
			logger.Int64("transfer_id", t.ID))
	}()

	from, to, err := s.parties(ctx, initiatorUserID, recipientUserID, amount)
	if err != nil {
		return domain.Transfer{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockAccounts(ctx, from.ID, to.ID); err != nil {
			return err
		}
		if err := move(ctx, tx, from.ID, to.ID, amount); err != nil {
			return err
		}
		t, err = createTransfer(ctx, tx, domain.Transfer{
			Type:          domain.TypeSend,
			Status:        domain.StatusApproved,
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Amount:        amount,
		})
		return err
	})
	if err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}

// Request records a Pending transfer asking payerUserID to pay the requester.
// No balance is checked or touched until the payer approves it.
func (s *LedgerService) Request(ctx context.Context, requesterUserID, payerUserID int64, amount decimal.Decimal) (t domain.Transfer, err error) {
	start := time.Now()
	defer func() {
		record("request", start, err,
			logger.Int64("from_user_id", payerUserID),
			logger.Int64("to_user_id", requesterUserID),
			amountField(amount),
			logger.Int64("transfer_id", t.ID))
	}()

	payer, requester, err := s.parties(ctx, payerUserID, requesterUserID, amount)
	if err != nil {
		return domain.Transfer{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err = createTransfer(ctx, tx, domain.Transfer{
			Type:          domain.TypeRequest,
			Status:        domain.StatusPending,
			FromAccountID: payer.ID,
			ToAccountID:   requester.ID,
			Amount:        amount,
		})
		return err
	})
	if err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}

// Resolve approves or rejects a pending request. Only the owner of the paying
// account may resolve it. Approval moves the funds in the same transaction as
// the status change; if the payer cannot cover the amount the transfer stays
// Pending.
func (s *LedgerService) Resolve(ctx context.Context, callerUserID, transferID int64, status domain.TransferStatus) (t domain.Transfer, err error) {
	start := time.Now()
	defer func() {
		record("resolve", start, err,
			logger.Int64("user_id", callerUserID),
			logger.Int64("transfer_id", transferID),
			logger.String("status", status.String()))
	}()

	if !status.Terminal() {
		return domain.Transfer{}, fmt.Errorf("%w: cannot resolve to %s", domain.ErrInvalidState, status)
	}

	current, err := s.store.Transfer(ctx, transferID)
	if err != nil {
		return domain.Transfer{}, err
	}
	caller, err := s.store.AccountByOwner(ctx, callerUserID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && caller.ID != current.FromAccountID) {
		return domain.Transfer{}, domain.ErrForbidden
	}
	if err != nil {
		return domain.Transfer{}, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockAccounts(ctx, current.FromAccountID, current.ToAccountID); err != nil {
			return err
		}
		// Re-read under the locks: a concurrent resolver may have won.
		locked, err := tx.Transfer(ctx, transferID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(locked.Status, status) {
			return fmt.Errorf("%w: transfer %d is %s", domain.ErrInvalidState, transferID, locked.Status)
		}
		if status == domain.StatusApproved {
			if err := move(ctx, tx, locked.FromAccountID, locked.ToAccountID, locked.Amount); err != nil {
				return err
			}
		}
		if err := tx.SetTransferStatus(ctx, transferID, status); err != nil {
			return err
		}
		t, err = tx.Transfer(ctx, transferID)
		return err
	})
	if err != nil {
		return domain.Transfer{}, err
	}
	return t, nil
}

// parties validates the amount and resolves the debited and credited
// accounts from their owners.
func (s *LedgerService) parties(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (from, to domain.Account, err error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return from, to, err
	}
	if fromUserID == toUserID {
		return from, to, domain.ErrSelfTransfer
	}
	if from, err = s.store.AccountByOwner(ctx, fromUserID); err != nil {
		return from, to, err
	}
	if to, err = s.store.AccountByOwner(ctx, toUserID); err != nil {
		return from, to, err
	}
	if from.ID == to.ID {
		return from, to, domain.ErrSelfTransfer
	}
	return from, to, nil
}

// move is the only path that changes balances. Both accounts must already be
// locked by tx.
func move(ctx context.Context, tx store.Tx, fromID, toID int64, amount decimal.Decimal) error {
	from, err := tx.Account(ctx, fromID)
	if err != nil {
		return err
	}
	if from.Balance.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	if _, err := tx.AdjustBalance(ctx, fromID, amount.Neg()); err != nil {
		return err
	}
	if _, err := tx.AdjustBalance(ctx, toID, amount); err != nil {
		return err
	}
	return nil
}

func createTransfer(ctx context.Context, tx store.Tx, t domain.Transfer) (domain.Transfer, error) {
	id, err := tx.CreateTransfer(ctx, t)
	if err != nil {
		return domain.Transfer{}, err
	}
	return tx.Transfer(ctx, id)
}
