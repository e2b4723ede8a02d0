package memory

import (
	"context"
	"fmt"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type walletRepo memTx

func (r *walletRepo) GetOrCreate(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	key := walletKey{userID: userID, currency: currency}
	if id, ok := r.st.walletIndex[key]; ok {
		w := r.st.wallets[id]
		return &w, nil
	}
	now := r.now()
	w := models.Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		Currency:         currency,
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		LockedBalance:    decimal.Zero,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.st.wallets[w.ID] = w
	r.st.walletIndex[key] = w.ID
	return &w, nil
}

func (r *walletRepo) Get(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	id, ok := r.st.walletIndex[walletKey{userID: userID, currency: currency}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s currency %s", models.ErrWalletNotFound, userID, currency)
	}
	w := r.st.wallets[id]
	return &w, nil
}

func (r *walletRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, ok := r.st.wallets[id]
	if !ok {
		return nil, models.NewWalletError(id, models.ErrWalletNotFound)
	}
	return &w, nil
}

func (r *walletRepo) DebitAvailable(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.mutate(id, amount, true, func(w *models.Wallet) error {
		if w.AvailableBalance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}
		w.AvailableBalance = w.AvailableBalance.Sub(amount)
		return nil
	})
}

func (r *walletRepo) CreditAvailable(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.mutate(id, amount, false, func(w *models.Wallet) error {
		w.AvailableBalance = w.AvailableBalance.Add(amount)
		return nil
	})
}

func (r *walletRepo) Lock(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.mutate(id, amount, true, func(w *models.Wallet) error {
		if w.AvailableBalance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}
		w.AvailableBalance = w.AvailableBalance.Sub(amount)
		w.LockedBalance = w.LockedBalance.Add(amount)
		return nil
	})
}

func (r *walletRepo) Unlock(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.mutate(id, amount, false, func(w *models.Wallet) error {
		if w.LockedBalance.LessThan(amount) {
			return models.ErrInvariantViolation
		}
		w.LockedBalance = w.LockedBalance.Sub(amount)
		w.AvailableBalance = w.AvailableBalance.Add(amount)
		return nil
	})
}

func (r *walletRepo) Release(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.mutate(id, amount, false, func(w *models.Wallet) error {
		if w.LockedBalance.LessThan(amount) {
			return models.ErrInvariantViolation
		}
		w.LockedBalance = w.LockedBalance.Sub(amount)
		return nil
	})
}

func (r *walletRepo) mutate(id uuid.UUID, amount decimal.Decimal, requireActive bool, fn func(w *models.Wallet) error) (*models.Wallet, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount)
	}
	w, ok := r.st.wallets[id]
	if !ok {
		return nil, models.NewWalletError(id, models.ErrWalletNotFound)
	}
	if requireActive && !w.IsActive {
		return nil, models.NewWalletError(id, models.ErrWalletInactive)
	}
	if err := fn(&w); err != nil {
		return nil, models.NewWalletError(id, err)
	}
	w.UpdatedAt = r.now()
	r.st.wallets[id] = w
	return &w, nil
}
