package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCurrencies struct {
	calls int
}

func (c *countingCurrencies) Get(_ context.Context, code string) (*models.Currency, error) {
	c.calls++
	if code != "EUR" {
		return nil, models.ErrUnsupportedCurrency
	}
	return &models.Currency{Code: "EUR", Name: "Euro", MinorUnits: 2, IsActive: true}, nil
}

func TestCachedCurrencies(t *testing.T) {
	next := &countingCurrencies{}
	cached := repository.NewCachedCurrencies(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cur, err := cached.Get(ctx, "EUR")
		require.NoError(t, err)
		assert.Equal(t, "Euro", cur.Name)
	}
	assert.Equal(t, 1, next.calls)

	_, err := cached.Get(ctx, "USD")
	assert.ErrorIs(t, err, models.ErrUnsupportedCurrency)
	_, err = cached.Get(ctx, "USD")
	assert.ErrorIs(t, err, models.ErrUnsupportedCurrency)
	assert.Equal(t, 3, next.calls, "misses are not cached")
}

func TestCachedCurrenciesExpire(t *testing.T) {
	next := &countingCurrencies{}
	cached := repository.NewCachedCurrencies(next, 20*time.Millisecond)

	_, err := cached.Get(context.Background(), "EUR")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = cached.Get(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
