package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/punchamoorthee/tenmo-ledger/internal/models"
	"github.com/punchamoorthee/tenmo-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// Ledger is the command side the handlers drive.
type Ledger interface {
	OpenAccount(ctx context.Context, userID int64) (domain.Account, error)
	Send(ctx context.Context, initiatorUserID, recipientUserID int64, amount decimal.Decimal) (domain.Transfer, error)
	Request(ctx context.Context, requesterUserID, payerUserID int64, amount decimal.Decimal) (domain.Transfer, error)
	Resolve(ctx context.Context, callerUserID, transferID int64, status domain.TransferStatus) (domain.Transfer, error)
}

// Queries is the read side the handlers drive.
type Queries interface {
	Account(ctx context.Context, userID int64) (domain.Account, error)
	AccountByID(ctx context.Context, accountID int64) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	BalanceOf(ctx context.Context, userID int64) (decimal.Decimal, error)
	TransferHistory(ctx context.Context, userID int64) ([]domain.Transfer, error)
	PendingRequestsFor(ctx context.Context, userID int64) ([]domain.Transfer, error)
	Transfer(ctx context.Context, userID, transferID int64) (domain.Transfer, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ledger  Ledger
	queries Queries
	db      Pinger
}

func NewHandler(ledger Ledger, queries Queries, db Pinger) *Handler {
	return &Handler{ledger: ledger, queries: queries, db: db}
}

// Router wires every route. Everything under /api/v1 requires a bearer token
// signed with secret; idem may be nil to disable Idempotency-Key handling.
func (h *Handler) Router(secret []byte, idem *Idempotency) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, requestLogger, instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(Authenticate(secret))
	if idem != nil {
		v1.Use(idem.Middleware)
	}

	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts", h.ListAccountsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/me", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccountByIDHandler).Methods(http.MethodGet)
	v1.HandleFunc("/balance", h.GetBalanceHandler).Methods(http.MethodGet)

	v1.HandleFunc("/transfers", h.ListTransfersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/pending", h.ListPendingHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/send", h.SendHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/request", h.RequestHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id:[0-9]+}", h.GetTransferHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/{id:[0-9]+}/status", h.ResolveHandler).Methods(http.MethodPut)

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID := mustUserID(r)

	acc, err := h.ledger.OpenAccount(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/me")
	respondWithJSON(w, http.StatusCreated, models.NewAccountResponse(acc))
}

func (h *Handler) SendHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.ledger.Send(r.Context(), mustUserID(r), req.ToUserID, req.Amount)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%d", t.ID))
	respondWithJSON(w, http.StatusCreated, models.NewTransferResponse(t))
}

func (h *Handler) RequestHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RequestFundsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.ledger.Request(r.Context(), mustUserID(r), req.FromUserID, req.Amount)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%d", t.ID))
	respondWithJSON(w, http.StatusCreated, models.NewTransferResponse(t))
}

func (h *Handler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	var req models.ResolveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.ledger.Resolve(r.Context(), mustUserID(r), id, req.Status)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(t))
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags,
// answering 400 itself when either fails.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body: "+err.Error())
		return false
	}
	if errs := models.Validate(dst); errs != nil {
		respondWithJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request data",
			Details: errs,
		})
		return false
	}
	return true
}

func transferID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathID(w, r, "transfer")
}

// pathID parses the {id} route variable, answering 400 when it is not a
// positive int64.
func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid "+what+" id")
		return 0, false
	}
	return id, true
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransfer),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if domain.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	msg := err.Error()
	if code >= http.StatusInternalServerError {
		logger.Log.Error("request failed", logger.Error(err))
		msg = http.StatusText(code)
		if domain.Retryable(err) {
			msg = domain.ErrLockTimeout.Error()
		}
	}
	respondWithError(w, code, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Log.Warn("write response", logger.Error(err))
		}
	}
}
