package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, user_id, currency, available_balance, pending_balance, locked_balance, is_active, created_at, updated_at`

type walletRepo struct {
	q sqlx.ExtContext
}

func (r *walletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	const insert = `INSERT INTO wallets (id, user_id, currency) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency) DO NOTHING`
	if _, err := r.q.ExecContext(ctx, insert, uuid.New(), userID, currency); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	if err := sqlx.GetContext(ctx, r.q, &wallet, query, userID, currency); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepo) Get(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return getWallet(ctx, r.q, userID, currency)
}

func getWallet(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	err := sqlx.GetContext(ctx, q, &wallet, query, userID, currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s currency %s", models.ErrWalletNotFound, userID, currency)
		}
		return nil, fmt.Errorf("error getting wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	err := sqlx.GetContext(ctx, r.q, &wallet, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewWalletError(id, models.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("error locking wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepo) DebitAvailable(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.update(ctx, id, amount, `
		UPDATE wallets
		SET available_balance = available_balance - $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND available_balance >= $2
		RETURNING `+walletColumns, models.ErrInsufficientFunds)
}

func (r *walletRepo) CreditAvailable(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.update(ctx, id, amount, `
		UPDATE wallets
		SET available_balance = available_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+walletColumns, nil)
}

func (r *walletRepo) Lock(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.update(ctx, id, amount, `
		UPDATE wallets
		SET available_balance = available_balance - $2, locked_balance = locked_balance + $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND available_balance >= $2
		RETURNING `+walletColumns, models.ErrInsufficientFunds)
}

func (r *walletRepo) Unlock(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.update(ctx, id, amount, `
		UPDATE wallets
		SET locked_balance = locked_balance - $2, available_balance = available_balance + $2, updated_at = NOW()
		WHERE id = $1 AND locked_balance >= $2
		RETURNING `+walletColumns, models.ErrInvariantViolation)
}

func (r *walletRepo) Release(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	return r.update(ctx, id, amount, `
		UPDATE wallets
		SET locked_balance = locked_balance - $2, updated_at = NOW()
		WHERE id = $1 AND locked_balance >= $2
		RETURNING `+walletColumns, models.ErrInvariantViolation)
}

// update runs a conditional balance UPDATE. When it matches no row the
// wallet is re-read to tell a missing or inactive wallet from guardErr.
func (r *walletRepo) update(ctx context.Context, id uuid.UUID, amount decimal.Decimal, query string, guardErr error) (*models.Wallet, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount)
	}

	var wallet models.Wallet
	err := sqlx.GetContext(ctx, r.q, &wallet, query, id, amount)
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	var isActive bool
	err = sqlx.GetContext(ctx, r.q, &isActive, `SELECT is_active FROM wallets WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, models.NewWalletError(id, models.ErrWalletNotFound)
	case err != nil:
		return nil, fmt.Errorf("update balance: %w", err)
	case !isActive && errors.Is(guardErr, models.ErrInsufficientFunds):
		return nil, models.NewWalletError(id, models.ErrWalletInactive)
	case guardErr == nil:
		return nil, fmt.Errorf("update balance: wallet %s matched no row", id)
	default:
		return nil, models.NewWalletError(id, guardErr)
	}
}
