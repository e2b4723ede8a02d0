package repository

import (
	"context"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/patrickmn/go-cache"
)

type cachedCurrencies struct {
	next  CurrencyRepository
	cache *cache.Cache
}

// NewCachedCurrencies caches currency metadata for ttl. Only the currency
// registry goes through it; rates, fees and limits are always read fresh.
func NewCachedCurrencies(next CurrencyRepository, ttl time.Duration) CurrencyRepository {
	return &cachedCurrencies{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *cachedCurrencies) Get(ctx context.Context, code string) (*models.Currency, error) {
	if v, ok := c.cache.Get(code); ok {
		cur := v.(models.Currency)
		return &cur, nil
	}
	cur, err := c.next.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	c.cache.Set(code, *cur, cache.DefaultExpiration)
	return cur, nil
}
