package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type rateRepo struct {
	db *sqlx.DB
}

func (r *rateRepo) Current(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRate, error) {
	const query = `SELECT id, base_currency, quote_currency, rate, buy_rate, sell_rate, source, is_active,
			effective_from, effective_to, created_at
		FROM exchange_rates
		WHERE base_currency = $1 AND quote_currency = $2 AND is_active
			AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY created_at DESC
		LIMIT 1`

	var rate models.ExchangeRate
	if err := r.db.GetContext(ctx, &rate, query, base, quote, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRateUnavailable
		}
		return nil, fmt.Errorf("error getting exchange rate: %w", err)
	}
	return &rate, nil
}

type feeRepo struct {
	db *sqlx.DB
}

func (r *feeRepo) Active(ctx context.Context, t models.TransactionType) (*models.FeePolicy, error) {
	const query = `SELECT id, transaction_type, fixed_fee, percentage_fee, min_fee, max_fee, currency, is_active, created_at
		FROM transaction_fees
		WHERE transaction_type = $1 AND is_active
		ORDER BY created_at DESC
		LIMIT 1`

	var fee models.FeePolicy
	if err := r.db.GetContext(ctx, &fee, query, t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("error getting fee policy: %w", err)
	}
	return &fee, nil
}

type limitRepo struct {
	db *sqlx.DB
}

func (r *limitRepo) ForLevel(ctx context.Context, kycLevel int) (*models.TransactionLimit, error) {
	const query = `SELECT id, kyc_level, daily_receive_limit, daily_send_limit, min_transaction_amount,
			max_transaction_amount, currency, is_active, created_at, updated_at
		FROM transaction_limits
		WHERE kyc_level = $1`

	var limit models.TransactionLimit
	if err := r.db.GetContext(ctx, &limit, query, kycLevel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("error getting transaction limit: %w", err)
	}
	return &limit, nil
}

type currencyRepo struct {
	db *sqlx.DB
}

func (r *currencyRepo) Get(ctx context.Context, code string) (*models.Currency, error) {
	var currency models.Currency
	query := `SELECT code, name, minor_units, is_active FROM currencies WHERE code = $1`
	if err := r.db.GetContext(ctx, &currency, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, code)
		}
		return nil, fmt.Errorf("error getting currency: %w", err)
	}
	return &currency, nil
}

type queryRepo struct {
	db *sqlx.DB
}

func (r *queryRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, r.db, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *queryRepo) ListLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	return listLedgerEntries(ctx, r.db, transactionID)
}

func (r *queryRepo) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return getWallet(ctx, r.db, userID, currency)
}
