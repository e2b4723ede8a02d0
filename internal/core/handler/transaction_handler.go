package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type TransactionHandler struct {
	usecase  usecase.TransactionUsecase
	validate *validator.Validate
	log      logger.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type WalletResponse struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Currency         string    `json:"currency"`
	AvailableBalance string    `json:"available_balance"`
	PendingBalance   string    `json:"pending_balance"`
	LockedBalance    string    `json:"locked_balance"`
	IsActive         bool      `json:"is_active"`
}

type LedgerResponse struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Entries       []models.LedgerEntry `json:"entries"`
}

// caller identifies the verified user; authentication and KYC happen upstream.
type caller struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	KYCLevel int    `json:"kyc_level" validate:"gte=0"`
}

func (c caller) user() models.User {
	return models.User{ID: uuid.MustParse(c.UserID), KYCLevel: c.KYCLevel}
}

type amountRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

type receiveRequest struct {
	caller
	amountRequest
	models.ReceiveDetails
	Description string `json:"description" validate:"max=255"`
}

type bankTransferRequest struct {
	caller
	amountRequest
	BankAccount models.BankAccount `json:"bank_account" validate:"required"`
	Description string             `json:"description" validate:"max=255"`
}

type walletTransferRequest struct {
	caller
	amountRequest
	models.WalletTransferDetails
	Description string `json:"description" validate:"max=255"`
}

type quoteRequest struct {
	amountRequest
	Type string `json:"type" validate:"required,oneof=RECEIVE_MOBILE_MONEY SEND_BANK_TRANSFER WALLET_TO_WALLET"`
}

type failureRequest struct {
	Code    string `json:"code" validate:"required,max=50"`
	Message string `json:"message" validate:"max=500"`
}

func NewTransactionHandler(uc usecase.TransactionUsecase, log logger.Logger) *TransactionHandler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &TransactionHandler{usecase: uc, validate: validate, log: log}
}

// RegisterRoutes mounts the API on router. idempotent wraps the endpoints
// that create transactions.
func (h *TransactionHandler) RegisterRoutes(router *mux.Router, idempotent func(http.Handler) http.Handler) {
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}
	api := router.PathPrefix("/api/v1").Subrouter()

	api.Handle("/receives", idempotent(http.HandlerFunc(h.CreateReceive))).Methods(http.MethodPost)
	api.Handle("/bank-transfers", idempotent(http.HandlerFunc(h.CreateBankTransfer))).Methods(http.MethodPost)
	api.Handle("/wallet-transfers", idempotent(http.HandlerFunc(h.TransferWalletToWallet))).Methods(http.MethodPost)
	api.HandleFunc("/quotes", h.Quote).Methods(http.MethodPost)

	api.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/ledger", h.ListLedgerEntries).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/processing", h.StartProcessing).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/complete", h.Complete).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/fail", h.Fail).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}/cancel", h.Cancel).Methods(http.MethodPost)

	api.HandleFunc("/users/{user_id}/wallets/{currency}", h.GetWallet).Methods(http.MethodGet)
}

func (h *TransactionHandler) CreateReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.amountRequest)
	if !ok {
		return
	}

	txn, err := h.usecase.CreateReceive(r.Context(), usecase.ReceiveRequest{
		User:        req.user(),
		Amount:      amount,
		Details:     req.ReceiveDetails,
		Description: req.Description,
	})
	if err != nil {
		h.handleOperationError(w, "create receive", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) CreateBankTransfer(w http.ResponseWriter, r *http.Request) {
	var req bankTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.amountRequest)
	if !ok {
		return
	}

	txn, err := h.usecase.CreateBankTransfer(r.Context(), usecase.BankTransferRequest{
		User:        req.user(),
		Amount:      amount,
		Account:     req.BankAccount,
		Description: req.Description,
	})
	if err != nil {
		h.handleOperationError(w, "create bank transfer", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) TransferWalletToWallet(w http.ResponseWriter, r *http.Request) {
	var req walletTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.amountRequest)
	if !ok {
		return
	}

	txn, err := h.usecase.TransferWalletToWallet(r.Context(), usecase.WalletTransferRequest{
		User:        req.user(),
		Amount:      amount,
		Details:     req.WalletTransferDetails,
		Description: req.Description,
	})
	if err != nil {
		h.handleOperationError(w, "wallet transfer", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.amountRequest)
	if !ok {
		return
	}

	quote, err := h.usecase.Quote(r.Context(), usecase.QuoteRequest{
		Type:   models.TransactionType(req.Type),
		Amount: amount,
	})
	if err != nil {
		h.handleOperationError(w, "quote", err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.usecase.GetTransaction(r.Context(), id)
	if err != nil {
		h.handleOperationError(w, "get transaction", err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	entries, err := h.usecase.ListLedgerEntries(r.Context(), id)
	if err != nil {
		h.handleOperationError(w, "list ledger entries", err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, LedgerResponse{TransactionID: id, Entries: entries})
}

func (h *TransactionHandler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.usecase.StartProcessing(r.Context(), id)
	if err != nil {
		h.handleOperationError(w, "start processing", err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.usecase.Complete(r.Context(), id)
	if err != nil {
		h.handleOperationError(w, "complete", err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Fail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	var req failureRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.usecase.Fail(r.Context(), id, models.FailureReason{Code: req.Code, Message: req.Message})
	if err != nil {
		h.handleOperationError(w, "fail", err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	var req failureRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.usecase.CancelBankTransfer(r.Context(), id, models.FailureReason{Code: req.Code, Message: req.Message})
	if err != nil {
		h.handleOperationError(w, "cancel", err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := uuid.Parse(vars["user_id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be a UUID")
		return
	}
	currency := strings.ToUpper(vars["currency"])
	if !models.IsCurrencyCode(currency) {
		respondWithError(w, http.StatusBadRequest, "UNSUPPORTED_CURRENCY", "currency must be an ISO 4217 code")
		return
	}

	wallet, err := h.usecase.GetWallet(r.Context(), userID, currency)
	if err != nil {
		h.handleOperationError(w, "get wallet", err)
		return
	}
	respondWithJSON(w, http.StatusOK, WalletResponse{
		ID:               wallet.ID,
		UserID:           wallet.UserID,
		Currency:         wallet.Currency,
		AvailableBalance: wallet.AvailableBalance.StringFixed(models.AmountPlaces),
		PendingBalance:   wallet.PendingBalance.StringFixed(models.AmountPlaces),
		LockedBalance:    wallet.LockedBalance.StringFixed(models.AmountPlaces),
		IsActive:         wallet.IsActive,
	})
}

func (h *TransactionHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.log.Warn("Failed to decode request body", logger.StringField("path", r.URL.Path), logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		message := validationMessage(err)
		h.log.Warn("Request validation failed", logger.StringField("path", r.URL.Path), logger.StringField("reason", message))
		respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", message)
		return false
	}
	return true
}

func (h *TransactionHandler) parseAmount(w http.ResponseWriter, req amountRequest) (models.Money, bool) {
	amount, err := models.ParseMoney(req.Amount, strings.ToUpper(req.Currency))
	if err != nil {
		h.log.Warn("Invalid amount", logger.StringField("amount", req.Amount), logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return models.Money{}, false
	}
	return amount, true
}

func (h *TransactionHandler) transactionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_TRANSACTION_ID", "transaction id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleOperationError maps domain errors to statuses. Unknown errors are
// logged and hidden behind a 500.
func (h *TransactionHandler) handleOperationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, models.ErrUnsupportedCurrency):
		respondWithError(w, http.StatusBadRequest, "UNSUPPORTED_CURRENCY", err.Error())
	case errors.Is(err, models.ErrCurrencyMismatch):
		respondWithError(w, http.StatusBadRequest, "CURRENCY_MISMATCH", err.Error())
	case errors.Is(err, models.ErrSameWallet):
		respondWithError(w, http.StatusBadRequest, "SAME_WALLET", err.Error())
	case errors.Is(err, models.ErrInsufficientFunds):
		respondWithError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "insufficient funds")
	case errors.Is(err, models.ErrLimitExceeded):
		respondWithError(w, http.StatusUnprocessableEntity, "LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, models.ErrWalletInactive):
		respondWithError(w, http.StatusUnprocessableEntity, "WALLET_INACTIVE", "wallet is inactive")
	case errors.Is(err, models.ErrWalletNotFound):
		respondWithError(w, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found")
	case errors.Is(err, models.ErrTransactionNotFound):
		respondWithError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	case errors.Is(err, models.ErrInvalidStateTransition):
		respondWithError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, models.ErrTransactionTypeMismatch):
		respondWithError(w, http.StatusConflict, "TRANSACTION_TYPE_MISMATCH", err.Error())
	case errors.Is(err, models.ErrRateUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "RATE_UNAVAILABLE", err.Error())
	default:
		h.log.Error("Failed to process operation", logger.StringField("operation", op), logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "INTERNAL", "failed to process operation")
	}
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}
