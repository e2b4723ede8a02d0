package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by policy lookups that found no active row.
var ErrNotFound = errors.New("not found")

// Store is the unit-of-work boundary. Everything fn does through tx commits
// together or not at all; an error from fn rolls back.
type Store interface {
	ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Rates() ExchangeRateRepository
	Fees() FeeRepository
	Limits() LimitRepository
	Currencies() CurrencyRepository
	Queries() QueryRepository
}

type Tx interface {
	Wallets() WalletRepository
	Transactions() TransactionRepository
	Ledger() LedgerRepository
	Conversions() ConversionRepository
	Outbox() OutboxRepository
}

// WalletRepository mutations return the wallet as it is after the change.
type WalletRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	Get(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error)

	DebitAvailable(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	CreditAvailable(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	Lock(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	Unlock(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
	Release(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Wallet, error)
}

// VolumeFilter selects the transactions counted towards a daily limit.
type VolumeFilter struct {
	UserID     uuid.UUID
	Types      []models.TransactionType
	Statuses   []models.TransactionStatus
	Currency   string
	Since      time.Time
	IncludeFee bool
}

type VolumeReader interface {
	SumVolume(ctx context.Context, f VolumeFilter) (decimal.Decimal, error)
}

type TransactionRepository interface {
	VolumeReader
	Create(ctx context.Context, t *models.Transaction) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, t *models.Transaction) error
}

// LedgerRepository is append-only.
type LedgerRepository interface {
	Append(ctx context.Context, entries []models.LedgerEntry) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error)
}

type ConversionRepository interface {
	Create(ctx context.Context, c *models.CurrencyConversion) error
}

type OutboxRepository interface {
	Add(ctx context.Context, e models.OutboxEvent) error
	// ClaimPending locks up to limit due events; rows claimed by another
	// relay are skipped.
	ClaimPending(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, status models.OutboxStatus) error
}

type ExchangeRateRepository interface {
	// Current returns the most recently created active rate for the ordered
	// pair that is effective at the given instant.
	Current(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRate, error)
}

type FeeRepository interface {
	Active(ctx context.Context, t models.TransactionType) (*models.FeePolicy, error)
}

type LimitRepository interface {
	ForLevel(ctx context.Context, kycLevel int) (*models.TransactionLimit, error)
}

type CurrencyRepository interface {
	Get(ctx context.Context, code string) (*models.Currency, error)
}

// QueryRepository serves reads that need no unit of work.
type QueryRepository interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
}
