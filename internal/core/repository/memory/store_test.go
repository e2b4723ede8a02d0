package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/Nzyazin/moneybridge/internal/core/repository/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedWallet(t *testing.T, store *memory.Store, available string) models.Wallet {
	t.Helper()
	return store.SetWallet(models.Wallet{
		UserID:           uuid.New(),
		Currency:         "EUR",
		AvailableBalance: dec(available),
		PendingBalance:   decimal.Zero,
		LockedBalance:    decimal.Zero,
		IsActive:         true,
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	store := memory.NewStore()
	wallet := seedWallet(t, store, "100")

	const goroutines = 2
	var wg sync.WaitGroup
	wg.Add(goroutines)
	errCh := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			errCh <- store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
				_, err := tx.Wallets().DebitAvailable(ctx, wallet.ID, dec("60"))
				return err
			})
		}()
	}

	wg.Wait()
	close(errCh)

	var succeeded, insufficient int
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	got, err := store.Queries().GetWallet(context.Background(), wallet.UserID, "EUR")
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(dec("40")), "balance %s", got.AvailableBalance)
}

func TestLockUnlockRestoresAvailable(t *testing.T) {
	store := memory.NewStore()
	wallet := seedWallet(t, store, "75.30")

	err := store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.Wallets().Lock(ctx, wallet.ID, dec("25.15"))
		if err != nil {
			return err
		}
		assert.True(t, locked.LockedBalance.Equal(dec("25.15")))
		_, err = tx.Wallets().Unlock(ctx, wallet.ID, dec("25.15"))
		return err
	})
	require.NoError(t, err)

	got, err := store.Queries().GetWallet(context.Background(), wallet.UserID, "EUR")
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(dec("75.30")))
	assert.True(t, got.LockedBalance.IsZero())
}

func TestUnlockMoreThanLockedIsInvariantViolation(t *testing.T) {
	store := memory.NewStore()
	wallet := seedWallet(t, store, "10")

	err := store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Wallets().Unlock(ctx, wallet.ID, dec("1"))
		return err
	})
	assert.ErrorIs(t, err, models.ErrInvariantViolation)

	var walletErr *models.WalletError
	require.ErrorAs(t, err, &walletErr)
	assert.Equal(t, wallet.ID, walletErr.WalletID)
}

func TestFailedUnitOfWorkLeavesNoTrace(t *testing.T) {
	store := memory.NewStore()
	wallet := seedWallet(t, store, "10")
	boom := errors.New("boom")

	err := store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Wallets().CreditAvailable(ctx, wallet.ID, dec("5")); err != nil {
			return err
		}
		if err := tx.Ledger().Append(ctx, []models.LedgerEntry{{ID: uuid.New(), TransactionID: uuid.New()}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Queries().GetWallet(context.Background(), wallet.UserID, "EUR")
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(dec("10")))
}

func TestCancelledContextAbortsBeforeCommit(t *testing.T) {
	store := memory.NewStore()
	wallet := seedWallet(t, store, "10")
	ctx, cancel := context.WithCancel(context.Background())

	err := store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Wallets().CreditAvailable(ctx, wallet.ID, dec("5"))
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.Queries().GetWallet(context.Background(), wallet.UserID, "EUR")
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(dec("10")))
}

func TestInactiveWalletRejectsDebit(t *testing.T) {
	store := memory.NewStore()
	wallet := store.SetWallet(models.Wallet{UserID: uuid.New(), Currency: "EUR", AvailableBalance: dec("10")})

	err := store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Wallets().DebitAvailable(ctx, wallet.ID, dec("1"))
		return err
	})
	assert.ErrorIs(t, err, models.ErrWalletInactive)
}

func TestCurrentRatePicksLatestActiveForExactPair(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	store.AddRate(models.ExchangeRate{BaseCurrency: "XOF", QuoteCurrency: "EUR", SellRate: dec("0.001500"),
		IsActive: true, EffectiveFrom: now.Add(-48 * time.Hour), CreatedAt: now.Add(-48 * time.Hour)})
	store.AddRate(models.ExchangeRate{BaseCurrency: "XOF", QuoteCurrency: "EUR", SellRate: dec("0.001524"),
		IsActive: true, EffectiveFrom: now.Add(-time.Hour), CreatedAt: now.Add(-time.Hour)})
	store.AddRate(models.ExchangeRate{BaseCurrency: "XOF", QuoteCurrency: "EUR", SellRate: dec("0.002000"),
		IsActive: false, EffectiveFrom: now.Add(-time.Minute), CreatedAt: now.Add(-time.Minute)})

	rate, err := store.Rates().Current(context.Background(), "XOF", "EUR", now)
	require.NoError(t, err)
	assert.True(t, rate.SellRate.Equal(dec("0.001524")))

	_, err = store.Rates().Current(context.Background(), "EUR", "XOF", now)
	assert.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestOutboxClaimAndReschedule(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	due := models.OutboxEvent{ID: uuid.New(), Status: models.OutboxPending, NextAttemptAt: now, CreatedAt: now}
	later := models.OutboxEvent{ID: uuid.New(), Status: models.OutboxPending, NextAttemptAt: now.Add(time.Hour), CreatedAt: now}

	require.NoError(t, store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Outbox().Add(ctx, due); err != nil {
			return err
		}
		return tx.Outbox().Add(ctx, later)
	}))

	require.NoError(t, store.ExecuteTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		events, err := tx.Outbox().ClaimPending(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, due.ID, events[0].ID)
		return tx.Outbox().Reschedule(ctx, due.ID, 1, now.Add(10*time.Second), models.OutboxPending)
	}))

	events := store.Outbox()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Attempts)
}
