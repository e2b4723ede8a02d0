package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/handler"
	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository/memory"
	"github.com/Nzyazin/moneybridge/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*mux.Router, *memory.Store) {
	t.Helper()
	log := logger.NewNop()
	now := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	store := memory.NewStore().WithClock(now)
	store.AddRate(models.ExchangeRate{
		BaseCurrency:  "XOF",
		QuoteCurrency: "EUR",
		SellRate:      decimal.RequireFromString("0.001524"),
		BuyRate:       decimal.RequireFromString("0.001520"),
		IsActive:      true,
		EffectiveFrom: now().Add(-time.Hour),
	})
	store.AddFee(models.FeePolicy{
		TransactionType: models.TransactionSendBankTransfer,
		FixedFee:        decimal.RequireFromString("2.00"),
		Currency:        "EUR",
		IsActive:        true,
	})
	store.AddLimit(models.TransactionLimit{
		KYCLevel:             1,
		DailyReceiveLimit:    decimal.NewFromInt(1000),
		DailySendLimit:       decimal.NewFromInt(1000),
		MinTransactionAmount: decimal.NewFromInt(1),
		MaxTransactionAmount: decimal.NewFromInt(500),
		Currency:             "EUR",
		IsActive:             true,
	})

	m := metrics.NewEngine(prometheus.NewRegistry())
	uc := usecase.NewTransactionUsecase(usecase.Dependencies{
		Store:        store,
		Ledger:       usecase.NewLedger(now, m, log),
		Rates:        usecase.NewExchangeRateProvider(store.Rates(), log),
		Fees:         usecase.NewFeeCalculator(store.Fees(), log),
		Limits:       usecase.NewLimitPolicy(store.Limits(), now, log),
		Metrics:      m,
		Log:          log,
		Clock:        now,
		HomeCurrency: "EUR",
	})

	router := mux.NewRouter()
	handler.NewTransactionHandler(uc, log).RegisterRoutes(router, nil)
	return router, store
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bankTransferBody(userID uuid.UUID, amount string) string {
	return fmt.Sprintf(`{
		"user_id": %q,
		"kyc_level": 1,
		"amount": %q,
		"currency": "EUR",
		"bank_account": {"id": %q, "bank_name": "ING", "iban": "NL91ABNA0417164300"}
	}`, userID, amount, uuid.New())
}

func TestBankTransferFlow(t *testing.T) {
	router, store := setupRouter(t)
	userID := uuid.New()
	store.SetWallet(models.Wallet{UserID: userID, Currency: "EUR", AvailableBalance: decimal.NewFromInt(100), IsActive: true})

	rec := do(router, http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(userID, "50,00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeBody[models.Transaction](t, rec)
	assert.Equal(t, models.StatusPending, txn.Status)
	assert.True(t, decimal.RequireFromString("2").Equal(txn.FeeAmount))

	rec = do(router, http.MethodGet, "/api/v1/users/"+userID.String()+"/wallets/eur", "")
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decodeBody[handler.WalletResponse](t, rec)
	assert.Equal(t, "48.00", wallet.AvailableBalance)
	assert.Equal(t, "52.00", wallet.LockedBalance)

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/processing", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCompleted, decodeBody[models.Transaction](t, rec).Status)

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decodeBody[handler.ErrorResponse](t, rec).Code)

	rec = do(router, http.MethodGet, "/api/v1/transactions/"+txn.ID.String()+"/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decodeBody[handler.LedgerResponse](t, rec)
	assert.Len(t, ledger.Entries, 7)

	rec = do(router, http.MethodGet, "/api/v1/transactions/"+txn.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelBankTransfer(t *testing.T) {
	router, store := setupRouter(t)
	userID := uuid.New()
	store.SetWallet(models.Wallet{UserID: userID, Currency: "EUR", AvailableBalance: decimal.NewFromInt(100), IsActive: true})

	rec := do(router, http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(userID, "10"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeBody[models.Transaction](t, rec)

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/cancel", `{"message":"no code"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/cancel", `{"code":"USER_CANCELLED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[models.Transaction](t, rec)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "USER_CANCELLED", cancelled.ErrorCode)
}

func TestReceiveAndQuote(t *testing.T) {
	router, _ := setupRouter(t)
	userID := uuid.New()

	body := fmt.Sprintf(`{
		"user_id": %q, "kyc_level": 1, "amount": "65595.70", "currency": "XOF",
		"provider": "WAVE", "phone_number": "+221770000000", "external_transaction_id": "wave-1"
	}`, userID)
	rec := do(router, http.MethodPost, "/api/v1/receives", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeBody[models.Transaction](t, rec)
	assert.Equal(t, "EUR", txn.Currency)
	assert.True(t, decimal.RequireFromString("99.97").Equal(txn.Amount), "no receive fee policy")

	rec = do(router, http.MethodPost, "/api/v1/transactions/"+txn.ID.String()+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(router, http.MethodPost, "/api/v1/quotes",
		`{"type": "SEND_BANK_TRANSFER", "amount": "50", "currency": "EUR"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeBody[models.Quote](t, rec)
	assert.True(t, decimal.RequireFromString("52").Equal(quote.Total.Amount))

	rec = do(router, http.MethodPost, "/api/v1/receives", strings.Replace(body, "XOF", "GHS", 1))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	router, store := setupRouter(t)
	userID := uuid.New()
	store.SetWallet(models.Wallet{UserID: userID, Currency: "EUR", AvailableBalance: decimal.NewFromInt(10), IsActive: true})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/bank-transfers", `{"amount":`, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"unknown field", http.MethodPost, "/api/v1/quotes", `{"type":"SEND_BANK_TRANSFER","amount":"1","currency":"EUR","x":1}`, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"missing bank account", http.MethodPost, "/api/v1/bank-transfers",
			fmt.Sprintf(`{"user_id":%q,"kyc_level":1,"amount":"5","currency":"EUR"}`, userID), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"three decimals", http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(userID, "5.001"), http.StatusBadRequest, "INVALID_AMOUNT"},
		{"insufficient funds", http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(userID, "9"), http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"over max amount", http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(userID, "600"), http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"},
		{"no wallet", http.MethodPost, "/api/v1/bank-transfers", bankTransferBody(uuid.New(), "5"), http.StatusNotFound, "WALLET_NOT_FOUND"},
		{"self transfer", http.MethodPost, "/api/v1/wallet-transfers",
			fmt.Sprintf(`{"user_id":%q,"kyc_level":1,"amount":"5","currency":"EUR","recipient_id":%q}`, userID, userID),
			http.StatusBadRequest, "SAME_WALLET"},
		{"unknown transaction", http.MethodGet, "/api/v1/transactions/" + uuid.NewString(), "", http.StatusNotFound, "TRANSACTION_NOT_FOUND"},
		{"bad transaction id", http.MethodGet, "/api/v1/transactions/nope", "", http.StatusBadRequest, "INVALID_TRANSACTION_ID"},
		{"bad currency", http.MethodGet, "/api/v1/users/" + userID.String() + "/wallets/EURO", "", http.StatusBadRequest, "UNSUPPORTED_CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[handler.ErrorResponse](t, rec).Code)
		})
	}
}
