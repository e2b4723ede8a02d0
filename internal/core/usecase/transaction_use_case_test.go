package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/Nzyazin/moneybridge/internal/core/repository/memory"
	"github.com/Nzyazin/moneybridge/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func money(amount, currency string) models.Money {
	return models.NewMoney(dec(amount), currency)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

type fixture struct {
	store    *memory.Store
	uc       usecase.TransactionUsecase
	ledger   usecase.Ledger
	registry *prometheus.Registry
	user     models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore lets a test put wrap around the memory store the
// usecase sees. A nil wrap uses the store directly.
func newFixtureWithStore(t *testing.T, wrap func(*memory.Store) repository.Store) *fixture {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore().WithClock(clock)

	store.AddRate(models.ExchangeRate{
		BaseCurrency:  "XOF",
		QuoteCurrency: "EUR",
		Rate:          dec("0.001524"),
		BuyRate:       dec("0.001520"),
		SellRate:      dec("0.001524"),
		IsActive:      true,
		EffectiveFrom: testNow.Add(-time.Hour),
	})
	store.AddFee(models.FeePolicy{
		TransactionType: models.TransactionReceiveMobileMoney,
		PercentageFee:   dec("1"),
		MinFee:          dec("0.50"),
		Currency:        "EUR",
		IsActive:        true,
	})
	store.AddFee(models.FeePolicy{
		TransactionType: models.TransactionSendBankTransfer,
		FixedFee:        dec("2.00"),
		Currency:        "EUR",
		IsActive:        true,
	})
	store.AddLimit(models.TransactionLimit{
		KYCLevel:             1,
		DailyReceiveLimit:    dec("1000"),
		DailySendLimit:       dec("1000"),
		MinTransactionAmount: dec("1"),
		MaxTransactionAmount: dec("500"),
		Currency:             "EUR",
		IsActive:             true,
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewEngine(reg)
	ledger := usecase.NewLedger(clock, m, log)
	var ucStore repository.Store = store
	if wrap != nil {
		ucStore = wrap(store)
	}
	uc := usecase.NewTransactionUsecase(usecase.Dependencies{
		Store:        ucStore,
		Ledger:       ledger,
		Rates:        usecase.NewExchangeRateProvider(store.Rates(), log),
		Fees:         usecase.NewFeeCalculator(store.Fees(), log),
		Limits:       usecase.NewLimitPolicy(store.Limits(), clock, log),
		Metrics:      m,
		Log:          log,
		Clock:        clock,
		HomeCurrency: "EUR",
	})

	return &fixture{
		store:    store,
		uc:       uc,
		ledger:   ledger,
		registry: reg,
		user:     models.User{ID: uuid.New(), KYCLevel: 1},
	}
}

// transitions reads moneybridge_transactions_total for one type and status.
func (f *fixture) transitions(t *testing.T, txType models.TransactionType, status models.TransactionStatus) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "moneybridge_transactions_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["type"] == string(txType) && labels["status"] == string(status) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

var errSerialization = errors.New("pq: could not serialize access due to concurrent update")

// conflictOnceStore runs the first unit of work to the end, throws its
// writes away with a serialization error and runs it again, like the
// postgres store does on 40001.
type conflictOnceStore struct {
	*memory.Store
	attempts int
}

func (s *conflictOnceStore) ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.attempts++
	if s.attempts == 1 {
		err := s.Store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return errSerialization
		})
		if !errors.Is(err, errSerialization) {
			return err
		}
		s.attempts++
	}
	return s.Store.ExecuteTx(ctx, fn)
}

func (f *fixture) fund(t *testing.T, amount string) models.Wallet {
	t.Helper()
	return f.store.SetWallet(models.Wallet{
		UserID:           f.user.ID,
		Currency:         "EUR",
		AvailableBalance: dec(amount),
		IsActive:         true,
	})
}

func (f *fixture) wallet(t *testing.T, userID uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := f.uc.GetWallet(context.Background(), userID, "EUR")
	require.NoError(t, err)
	return w
}

// assertBalanced checks that every transaction's entries net to zero per currency.
func (f *fixture) assertBalanced(t *testing.T) {
	t.Helper()
	for _, txn := range f.store.Transactions() {
		entries, err := f.uc.ListLedgerEntries(context.Background(), txn.ID)
		require.NoError(t, err)
		assert.NoError(t, f.ledger.Validate(entries), "transaction %s", txn.ID)
	}
}

func receive(f *fixture, amount, currency string) (*models.Transaction, error) {
	return f.uc.CreateReceive(context.Background(), usecase.ReceiveRequest{
		User:   f.user,
		Amount: money(amount, currency),
		Details: models.ReceiveDetails{
			Provider:              "ORANGE_MONEY",
			PhoneNumber:           "+221770000000",
			ExternalTransactionID: "om-" + uuid.NewString(),
		},
	})
}

func bankTransfer(f *fixture, amount string) (*models.Transaction, error) {
	return f.uc.CreateBankTransfer(context.Background(), usecase.BankTransferRequest{
		User:   f.user,
		Amount: money(amount, "EUR"),
		Account: models.BankAccount{
			ID:       uuid.New(),
			BankName: "BNP Paribas",
			IBAN:     "FR7630006000011234567890189",
		},
	})
}

func TestReceiveWithConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := receive(f, "65595.70", "XOF")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, txn.Status)
	assert.Equal(t, "EUR", txn.Currency)
	assertAmount(t, "98.97", txn.Amount)
	assertAmount(t, "1.00", txn.FeeAmount)
	assert.Equal(t, "XOF", txn.OriginalCurrency)
	assertAmount(t, "65595.70", txn.OriginalAmount.Decimal)
	assertAmount(t, "0.001524", txn.ExchangeRate.Decimal)

	entries, err := f.uc.ListLedgerEntries(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.NoError(t, f.ledger.Validate(entries))

	w := f.wallet(t, f.user.ID)
	assert.True(t, w.AvailableBalance.IsZero(), "nothing is credited before completion")

	completed, err := f.uc.CompleteReceive(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	w = f.wallet(t, f.user.ID)
	assertAmount(t, "98.97", w.AvailableBalance)

	conversions := f.store.Conversions()
	require.Len(t, conversions, 1)
	assertAmount(t, "65595.70", conversions[0].FromAmount)
	assertAmount(t, "99.97", conversions[0].ToAmount)

	entries, err = f.uc.ListLedgerEntries(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	var walletEntry *models.LedgerEntry
	for i := range entries {
		if entries[i].AccountType == models.AccountUserWallet {
			walletEntry = &entries[i]
		}
	}
	require.NotNil(t, walletEntry)
	assert.Equal(t, w.ID, walletEntry.WalletID.UUID)
	assertAmount(t, "98.97", walletEntry.BalanceAfter.Decimal)

	events := f.store.Outbox()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTransactionCreated, events[0].EventType)
	assert.Equal(t, models.EventTransactionCompleted, events[1].EventType)

	f.assertBalanced(t)
}

func TestReceiveRoundsToWholeEuros(t *testing.T) {
	f := newFixture(t)

	txn, err := receive(f, "65616.80", "XOF")
	require.NoError(t, err)
	assertAmount(t, "99.00", txn.Amount)
	assertAmount(t, "1.00", txn.FeeAmount)
}

func TestReceiveFailReversesPostings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := receive(f, "200", "EUR")
	require.NoError(t, err)

	failed, err := f.uc.FailReceive(ctx, txn.ID, models.FailureReason{Code: "PROVIDER_TIMEOUT", Message: "no callback"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "PROVIDER_TIMEOUT", failed.ErrorCode)

	w := f.wallet(t, f.user.ID)
	assert.True(t, w.AvailableBalance.IsZero())

	entries, err := f.uc.ListLedgerEntries(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 8)
	f.assertBalanced(t)

	_, err = f.uc.CompleteReceive(ctx, txn.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestReceiveRateUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := receive(f, "100", "GHS")
	require.ErrorIs(t, err, models.ErrRateUnavailable)
	var rateErr *models.RateError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "GHS", rateErr.Base)
	assert.Equal(t, "EUR", rateErr.Quote)
	assert.Empty(t, f.store.Transactions())
}

func TestReceiveRateIsNotInverted(t *testing.T) {
	f := newFixture(t)
	f.store.AddRate(models.ExchangeRate{
		BaseCurrency:  "EUR",
		QuoteCurrency: "GHS",
		SellRate:      dec("16.5"),
		BuyRate:       dec("16.4"),
		Rate:          dec("16.45"),
		IsActive:      true,
		EffectiveFrom: testNow.Add(-time.Hour),
	})

	_, err := receive(f, "100", "GHS")
	assert.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestReceiveRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5", "10.001"} {
		_, err := receive(f, amount, "EUR")
		assert.ErrorIs(t, err, models.ErrInvalidAmount, amount)
	}

	_, err := receive(f, "10", "USD")
	assert.ErrorIs(t, err, models.ErrUnsupportedCurrency)
	assert.Empty(t, f.store.Transactions())
}

func TestReceiveDailyLimit(t *testing.T) {
	f := newFixture(t)

	_, err := receive(f, "400", "EUR")
	require.NoError(t, err)
	_, err = receive(f, "400", "EUR")
	require.NoError(t, err)

	_, err = receive(f, "400", "EUR")
	require.ErrorIs(t, err, models.ErrLimitExceeded)
	var limitErr *models.LimitError
	require.ErrorAs(t, err, &limitErr)
	assertAmount(t, "1000", limitErr.Limit)
	assertAmount(t, "1208", limitErr.Attempted)
	assert.Len(t, f.store.Transactions(), 2)
}

func TestLimitsDenyUnknownTier(t *testing.T) {
	f := newFixture(t)
	f.user.KYCLevel = 9

	_, err := receive(f, "10", "EUR")
	assert.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestBankTransferLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100")

	txn, err := bankTransfer(f, "50")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, txn.Status)
	assertAmount(t, "2.00", txn.FeeAmount)
	assert.Equal(t, "0189", txn.Metadata["iban"])

	w := f.wallet(t, f.user.ID)
	assertAmount(t, "48", w.AvailableBalance)
	assertAmount(t, "52", w.LockedBalance)

	_, err = f.uc.StartProcessing(ctx, txn.ID)
	require.NoError(t, err)

	_, err = f.uc.CancelBankTransfer(ctx, txn.ID, models.FailureReason{Code: "USER_CANCELLED"})
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)

	completed, err := f.uc.Complete(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	w = f.wallet(t, f.user.ID)
	assertAmount(t, "48", w.AvailableBalance)
	assert.True(t, w.LockedBalance.IsZero())

	_, err = f.uc.CompleteBankTransfer(ctx, txn.ID)
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	w = f.wallet(t, f.user.ID)
	assertAmount(t, "48", w.AvailableBalance)
	assert.True(t, w.LockedBalance.IsZero())

	events := f.store.Outbox()
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTransactionProcessing, events[1].EventType)

	f.assertBalanced(t)
}

func TestBankTransferFailAndCancelRestoreBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100")

	first, err := bankTransfer(f, "30")
	require.NoError(t, err)
	second, err := bankTransfer(f, "20")
	require.NoError(t, err)

	w := f.wallet(t, f.user.ID)
	assertAmount(t, "46", w.AvailableBalance)
	assertAmount(t, "54", w.LockedBalance)

	failed, err := f.uc.Fail(ctx, first.ID, models.FailureReason{Code: "IBAN_REJECTED", Message: "account closed"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "account closed", failed.ErrorMessage)

	cancelled, err := f.uc.CancelBankTransfer(ctx, second.ID, models.FailureReason{Code: "USER_CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	w = f.wallet(t, f.user.ID)
	assertAmount(t, "100", w.AvailableBalance)
	assert.True(t, w.LockedBalance.IsZero())

	f.assertBalanced(t)
}

func TestBankTransferInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100")

	_, err := bankTransfer(f, "99")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	w := f.wallet(t, f.user.ID)
	assertAmount(t, "100", w.AvailableBalance)
	assert.True(t, w.LockedBalance.IsZero())
	assert.Empty(t, f.store.Transactions())
	assert.Empty(t, f.store.Outbox())
}

func TestBankTransferWithoutWallet(t *testing.T) {
	f := newFixture(t)

	_, err := bankTransfer(f, "10")
	assert.ErrorIs(t, err, models.ErrWalletNotFound)
}

func TestConcurrentBankTransfersNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100")

	const attempts = 10
	var wg sync.WaitGroup
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bankTransfer(f, "20"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	rejected := 0
	for err := range errCh {
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		rejected++
	}
	assert.Equal(t, 6, rejected)

	w := f.wallet(t, f.user.ID)
	assertAmount(t, "12", w.AvailableBalance)
	assertAmount(t, "88", w.LockedBalance)
	f.assertBalanced(t)
}

func TestWalletToWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100")
	recipient := uuid.New()

	txn, err := f.uc.TransferWalletToWallet(ctx, usecase.WalletTransferRequest{
		User:    f.user,
		Amount:  money("30", "EUR"),
		Details: models.WalletTransferDetails{RecipientID: recipient, Note: "rent"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, txn.Status)
	assert.True(t, txn.FeeAmount.IsZero())

	assertAmount(t, "70", f.wallet(t, f.user.ID).AvailableBalance)
	assertAmount(t, "30", f.wallet(t, recipient).AvailableBalance)

	events := f.store.Outbox()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTransactionCompleted, events[1].EventType)

	_, err = f.uc.Complete(ctx, txn.ID)
	assert.ErrorIs(t, err, models.ErrTransactionTypeMismatch)

	f.assertBalanced(t)
}

func TestWalletToWalletSurvivesUnitOfWorkRetry(t *testing.T) {
	var retrying *conflictOnceStore
	f := newFixtureWithStore(t, func(s *memory.Store) repository.Store {
		retrying = &conflictOnceStore{Store: s}
		return retrying
	})
	f.fund(t, "100")
	recipient := uuid.New()

	txn, err := f.uc.TransferWalletToWallet(context.Background(), usecase.WalletTransferRequest{
		User:    f.user,
		Amount:  money("30", "EUR"),
		Details: models.WalletTransferDetails{RecipientID: recipient},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, retrying.attempts)
	assert.Equal(t, models.StatusCompleted, txn.Status)

	assertAmount(t, "70", f.wallet(t, f.user.ID).AvailableBalance)
	assertAmount(t, "30", f.wallet(t, recipient).AvailableBalance)
	require.Len(t, f.store.Transactions(), 1)

	events := f.store.Outbox()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTransactionCreated, events[0].EventType)
	assert.Equal(t, models.EventTransactionCompleted, events[1].EventType)
	f.assertBalanced(t)
}

func TestWalletToWalletCountsOnlyFinalStatus(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100")

	_, err := f.uc.TransferWalletToWallet(context.Background(), usecase.WalletTransferRequest{
		User:    f.user,
		Amount:  money("10", "EUR"),
		Details: models.WalletTransferDetails{RecipientID: uuid.New()},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, f.transitions(t, models.TransactionWalletToWallet, models.StatusCompleted))
	assert.Equal(t, 0.0, f.transitions(t, models.TransactionWalletToWallet, models.StatusPending))
}

func TestWalletToWalletRejectsSelfAndOverdraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "10")

	_, err := f.uc.TransferWalletToWallet(ctx, usecase.WalletTransferRequest{
		User:    f.user,
		Amount:  money("5", "EUR"),
		Details: models.WalletTransferDetails{RecipientID: f.user.ID},
	})
	require.ErrorIs(t, err, models.ErrSameWallet)

	recipient := uuid.New()
	_, err = f.uc.TransferWalletToWallet(ctx, usecase.WalletTransferRequest{
		User:    f.user,
		Amount:  money("50", "EUR"),
		Details: models.WalletTransferDetails{RecipientID: recipient},
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	_, err = f.uc.GetWallet(ctx, recipient, "EUR")
	assert.ErrorIs(t, err, models.ErrWalletNotFound, "recipient wallet creation rolls back")
	assertAmount(t, "10", f.wallet(t, f.user.ID).AvailableBalance)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.uc.Quote(ctx, usecase.QuoteRequest{
		Type:   models.TransactionReceiveMobileMoney,
		Amount: money("65595.70", "XOF"),
	})
	require.NoError(t, err)
	require.NotNil(t, q.Converted)
	assertAmount(t, "99.97", q.Converted.Amount)
	assertAmount(t, "1.00", q.Fee.Amount)
	assertAmount(t, "98.97", q.Net.Amount)

	q, err = f.uc.Quote(ctx, usecase.QuoteRequest{
		Type:   models.TransactionSendBankTransfer,
		Amount: money("50", "EUR"),
	})
	require.NoError(t, err)
	assert.Nil(t, q.Converted)
	assertAmount(t, "52", q.Total.Amount)

	assert.Empty(t, f.store.Transactions())
	assert.Empty(t, f.store.Outbox())
}

func TestUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.CompleteReceive(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
	_, err = f.uc.ListLedgerEntries(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.uc.CreateBankTransfer(ctx, usecase.BankTransferRequest{
		User:    f.user,
		Amount:  money("10", "EUR"),
		Account: models.BankAccount{ID: uuid.New(), BankName: "ING", IBAN: "NL91ABNA0417164300"},
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.store.Transactions())
}
