package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every lookup miss; match it with errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrAccountNotFound indicates an unknown account id or an owner without an account.
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	// ErrTransferNotFound indicates an unknown transfer id.
	ErrTransferNotFound = fmt.Errorf("transfer %w", ErrNotFound)

	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidState is returned for any status transition other than Pending to Approved or Rejected.
	ErrInvalidState  = errors.New("invalid transfer state transition")
	ErrInvalidStatus = errors.New("invalid transfer status")
	ErrInvalidType   = errors.New("invalid transfer type")
	ErrForbidden     = errors.New("forbidden")
	ErrAccountExists = errors.New("account already exists for user")

	// ErrLockTimeout means the accounts could not be locked in time. The call is safe to retry.
	ErrLockTimeout = errors.New("timed out acquiring account locks")
	// ErrStoreUnavailable wraps failures of the underlying persistence.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Retryable reports whether the caller may retry the failed operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
