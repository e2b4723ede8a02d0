package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
)

type rateRepo Store

func (r *rateRepo) Current(_ context.Context, base, quote string, at time.Time) (*models.ExchangeRate, error) {
	r.refMu.RLock()
	defer r.refMu.RUnlock()

	var best *models.ExchangeRate
	for i := range r.rates {
		rate := r.rates[i]
		if rate.BaseCurrency != base || rate.QuoteCurrency != quote || !rate.EffectiveAt(at) {
			continue
		}
		if best == nil || rate.CreatedAt.After(best.CreatedAt) {
			best = &rate
		}
	}
	if best == nil {
		return nil, models.ErrRateUnavailable
	}
	return best, nil
}

type feeRepo Store

func (r *feeRepo) Active(_ context.Context, t models.TransactionType) (*models.FeePolicy, error) {
	r.refMu.RLock()
	defer r.refMu.RUnlock()

	var best *models.FeePolicy
	for i := range r.fees {
		f := r.fees[i]
		if f.TransactionType != t || !f.IsActive {
			continue
		}
		if best == nil || f.CreatedAt.After(best.CreatedAt) {
			best = &f
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

type limitRepo Store

func (r *limitRepo) ForLevel(_ context.Context, kycLevel int) (*models.TransactionLimit, error) {
	r.refMu.RLock()
	defer r.refMu.RUnlock()

	l, ok := r.limits[kycLevel]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

type currencyRepo Store

func (r *currencyRepo) Get(_ context.Context, code string) (*models.Currency, error) {
	r.refMu.RLock()
	defer r.refMu.RUnlock()

	c, ok := r.currencies[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, code)
	}
	return &c, nil
}

type queryRepo Store

func (r *queryRepo) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, id)
	}
	return &t, nil
}

func (r *queryRepo) ListLedgerEntries(_ context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return entriesFor(r.state.ledger, transactionID), nil
}

func (r *queryRepo) GetWallet(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.walletIndex[walletKey{userID: userID, currency: currency}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s currency %s", models.ErrWalletNotFound, userID, currency)
	}
	w := r.state.wallets[id]
	return &w, nil
}
