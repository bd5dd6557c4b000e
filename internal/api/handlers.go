package api

import (
	"net/http"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/punchamoorthee/tenmo-ledger/internal/models"
)

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.queries.Account(r.Context(), mustUserID(r))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccountResponse(acc))
}

func (h *Handler) GetAccountByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	acc, err := h.queries.AccountByID(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccountResponse(acc))
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.queries.Accounts(r.Context())
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewAccountList(accounts))
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := mustUserID(r)
	balance, err := h.queries.BalanceOf(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.BalanceResponse{
		UserID:  userID,
		Balance: balance.StringFixed(domain.MoneyScale),
	})
}

func (h *Handler) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.queries.TransferHistory(r.Context(), mustUserID(r))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferList(transfers))
}

func (h *Handler) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.queries.PendingRequestsFor(r.Context(), mustUserID(r))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferList(transfers))
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	t, err := h.queries.Transfer(r.Context(), mustUserID(r), id)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(t))
}
