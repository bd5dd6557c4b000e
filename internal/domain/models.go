package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's balance. Each user owns exactly one account.
type Account struct {
	ID        int64
	UserID    int64
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Transfer is the record of a movement of funds between two accounts.
// FromAccountID is always the side that is debited.
type Transfer struct {
	ID            int64
	Type          TransferType
	Status        TransferStatus
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Involves reports whether the account is either side of the transfer.
func (t Transfer) Involves(accountID int64) bool {
	return t.FromAccountID == accountID || t.ToAccountID == accountID
}

// Validate checks the invariants every transfer must satisfy before it is persisted.
func (t Transfer) Validate() error {
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSelfTransfer
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if !t.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// MoneyScale is the number of fractional digits a balance or amount may carry.
const MoneyScale = 2

// maxIntegerDigits is what NUMERIC(13,2) leaves before the decimal point.
const maxIntegerDigits = 11

// MaxAmount is the largest balance or amount the ledger can hold.
var MaxAmount = decimal.New(9999999999999, -MoneyScale)

// ValidateAmount rejects non-positive amounts and amounts outside
// ValidateMoney's range.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return ValidateMoney(amount)
}

// ValidateMoney checks that the magnitude of d fits a ledger column: no
// finer than a cent and no larger than MaxAmount. The bounds are checked on
// the digit count and exponent before any rescaling, so values like 1e30000000
// are refused without big-number arithmetic.
func ValidateMoney(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	exp := int64(d.Exponent())
	digits := int64(d.NumDigits())
	if digits+exp > maxIntegerDigits {
		return fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.StringFixed(MoneyScale))
	}
	if exp >= -MoneyScale {
		return nil
	}
	// Below a cent the coefficient needs -exp-MoneyScale trailing zeros, which
	// it cannot have with fewer digits than that.
	if -exp-MoneyScale >= digits || !d.Equal(d.Round(MoneyScale)) {
		return fmt.Errorf("%w: finer than a cent", ErrInvalidAmount)
	}
	return nil
}
