package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

const transactionColumns = `id, user_id, transaction_type, status, amount, currency, original_amount, original_currency,
	exchange_rate, exchange_rate_id, fee_amount, fee_currency, source_wallet_id, destination_wallet_id,
	external_transaction_id, description, metadata, error_code, error_message, initiated_at, completed_at, updated_at`

// transactionRow carries the jsonb metadata column.
type transactionRow struct {
	models.Transaction
	Metadata pqtype.NullRawMessage `db:"metadata"`
}

func (row *transactionRow) toModel() (*models.Transaction, error) {
	t := row.Transaction
	if row.Metadata.Valid {
		if err := json.Unmarshal(row.Metadata.RawMessage, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}

type transactionRepo struct {
	q sqlx.ExtContext
}

func (r *transactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	metadata := pqtype.NullRawMessage{}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	const query = `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.UserID, t.Type, t.Status, t.Amount, t.Currency, t.OriginalAmount, t.OriginalCurrency,
		t.ExchangeRate, t.ExchangeRateID, t.FeeAmount, t.FeeCurrency, t.SourceWalletID, t.DestinationWalletID,
		t.ExternalTransactionID, t.Description, metadata, t.ErrorCode, t.ErrorMessage, t.InitiatedAt, t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return getTransaction(ctx, r.q, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, query string, id uuid.UUID) (*models.Transaction, error) {
	var row transactionRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("error getting transaction: %w", err)
	}
	return row.toModel()
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, t *models.Transaction) error {
	const query = `UPDATE transactions
		SET status = $2, error_code = $3, error_message = $4, completed_at = $5, updated_at = $6
		WHERE id = $1`
	res, err := r.q.ExecContext(ctx, query, t.ID, t.Status, t.ErrorCode, t.ErrorMessage, t.CompletedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", models.ErrTransactionNotFound, t.ID)
	}
	return nil
}

func (r *transactionRepo) SumVolume(ctx context.Context, f repository.VolumeFilter) (decimal.Decimal, error) {
	types := make([]string, len(f.Types))
	for i, t := range f.Types {
		types[i] = string(t)
	}
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}

	const query = `SELECT COALESCE(SUM(amount + CASE WHEN $6 THEN fee_amount ELSE 0 END), 0)
		FROM transactions
		WHERE user_id = $1 AND currency = $2 AND initiated_at >= $3
			AND transaction_type = ANY($4) AND status = ANY($5)`

	var total decimal.Decimal
	err := sqlx.GetContext(ctx, r.q, &total, query,
		f.UserID, f.Currency, f.Since, pq.Array(types), pq.Array(statuses), f.IncludeFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum volume: %w", err)
	}
	return total, nil
}

const ledgerColumns = `id, transaction_id, entry_type, account_type, amount, currency, wallet_id, balance_after, description, created_at`

type ledgerRepo struct {
	q sqlx.ExtContext
}

// Append is the only write the ledger table ever sees.
func (r *ledgerRepo) Append(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	const query = `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES (:id, :transaction_id, :entry_type, :account_type, :amount, :currency, :wallet_id, :balance_after, :description, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, entries); err != nil {
		return fmt.Errorf("append ledger entries: %w", err)
	}
	return nil
}

func (r *ledgerRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	return listLedgerEntries(ctx, r.q, transactionID)
}

func listLedgerEntries(ctx context.Context, q sqlx.QueryerContext, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, q, &entries, query, transactionID); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

type conversionRepo struct {
	q sqlx.ExtContext
}

func (r *conversionRepo) Create(ctx context.Context, c *models.CurrencyConversion) error {
	const query = `INSERT INTO currency_conversions
		(id, transaction_id, from_currency, to_currency, from_amount, to_amount, exchange_rate_id, rate_applied, converted_at)
		VALUES (:id, :transaction_id, :from_currency, :to_currency, :from_amount, :to_amount, :exchange_rate_id, :rate_applied, :converted_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, c); err != nil {
		return fmt.Errorf("create currency conversion: %w", err)
	}
	return nil
}
