package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations exposes the schema for pkg/postgresdb.Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Option func(*postgresStore)

// WithRetryObserver is called each time a unit of work is restarted.
func WithRetryObserver(fn func()) Option {
	return func(s *postgresStore) { s.onRetry = fn }
}

// WithBaseBackoff sets the first retry delay; later delays double.
func WithBaseBackoff(d time.Duration) Option {
	return func(s *postgresStore) { s.baseBackoff = d }
}

// WithCurrencyCache serves currency lookups from memory for ttl.
func WithCurrencyCache(ttl time.Duration) Option {
	return func(s *postgresStore) { s.currencies = repository.NewCachedCurrencies(s.currencies, ttl) }
}

type postgresStore struct {
	db          *sqlx.DB
	log         logger.Logger
	maxRetries  uint64
	baseBackoff time.Duration
	onRetry     func()
	currencies  repository.CurrencyRepository
}

func NewStore(db *sqlx.DB, log logger.Logger, maxRetries uint64, opts ...Option) repository.Store {
	s := &postgresStore{
		db:          db,
		log:         log,
		maxRetries:  maxRetries,
		baseBackoff: 10 * time.Millisecond,
		onRetry:     func() {},
		currencies:  &currencyRepo{db: db},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteTx runs fn in a SERIALIZABLE transaction and restarts it on
// serialization failures and deadlocks.
func (s *postgresStore) ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.WithJitterPercent(25, retry.NewExponential(s.baseBackoff)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.runTx(ctx, fn)
		if err != nil && isRetryable(err) {
			s.log.Warn("Transaction conflict, retrying",
				logger.IntField("attempt", attempt),
				logger.ErrorField("error", err))
			s.onRetry()
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *postgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	var isCommitted bool
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		s.log.Error("Error beginning transaction", logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if isCommitted {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("Transaction rollback failed", logger.ErrorField("error", rbErr))
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		} else {
			s.log.Debug("Transaction rolled back", logger.ErrorField("error", err))
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.Error("Error committing transaction", logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
	}
	return false
}

func (s *postgresStore) Rates() repository.ExchangeRateRepository { return &rateRepo{db: s.db} }
func (s *postgresStore) Fees() repository.FeeRepository           { return &feeRepo{db: s.db} }
func (s *postgresStore) Limits() repository.LimitRepository       { return &limitRepo{db: s.db} }
func (s *postgresStore) Currencies() repository.CurrencyRepository { return s.currencies }
func (s *postgresStore) Queries() repository.QueryRepository       { return &queryRepo{db: s.db} }

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Wallets() repository.WalletRepository           { return &walletRepo{q: t.tx} }
func (t *pgTx) Transactions() repository.TransactionRepository { return &transactionRepo{q: t.tx} }
func (t *pgTx) Ledger() repository.LedgerRepository             { return &ledgerRepo{q: t.tx} }
func (t *pgTx) Conversions() repository.ConversionRepository    { return &conversionRepo{q: t.tx} }
func (t *pgTx) Outbox() repository.OutboxRepository             { return &outboxRepo{q: t.tx} }
