package models

import (
	"time"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SendRequest is the payload of POST /transfers/send. The amount accepts a
// JSON number or string; its rules are enforced by the ledger.
type SendRequest struct {
	ToUserID int64           `json:"toUserId" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
}

// RequestFundsRequest is the payload of POST /transfers/request.
type RequestFundsRequest struct {
	FromUserID int64           `json:"fromUserId" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount"`
}

// ResolveRequest is the payload of PUT /transfers/{id}/status.
type ResolveRequest struct {
	Status domain.TransferStatus `json:"status" validate:"required"`
}

type AccountResponse struct {
	AccountID int64     `json:"accountId"`
	UserID    int64     `json:"userId"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type BalanceResponse struct {
	UserID  int64  `json:"userId"`
	Balance string `json:"balance"`
}

type TransferResponse struct {
	TransferID    int64                 `json:"transferId"`
	Type          domain.TransferType   `json:"type"`
	Status        domain.TransferStatus `json:"status"`
	FromAccountID int64                 `json:"fromAccountId"`
	ToAccountID   int64                 `json:"toAccountId"`
	Amount        string                `json:"amount"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details []ValidationError `json:"details,omitempty"`
}

func NewAccountResponse(a domain.Account) AccountResponse {
	return AccountResponse{
		AccountID: a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance.StringFixed(domain.MoneyScale),
		CreatedAt: a.CreatedAt,
	}
}

func NewAccountList(accounts []domain.Account) []AccountResponse {
	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, NewAccountResponse(a))
	}
	return out
}

func NewTransferResponse(t domain.Transfer) TransferResponse {
	return TransferResponse{
		TransferID:    t.ID,
		Type:          t.Type,
		Status:        t.Status,
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		Amount:        t.Amount.StringFixed(domain.MoneyScale),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func NewTransferList(transfers []domain.Transfer) []TransferResponse {
	out := make([]TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, NewTransferResponse(t))
	}
	return out
}
