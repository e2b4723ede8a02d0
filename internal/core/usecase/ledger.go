package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	Validate(entries []models.LedgerEntry) error
	Post(ctx context.Context, tx repository.Tx, transactionID uuid.UUID, entries []models.LedgerEntry) error
}

type ledger struct {
	now     Clock
	metrics *metrics.Engine
	log     logger.Logger
}

func NewLedger(now Clock, m *metrics.Engine, log logger.Logger) Ledger {
	return &ledger{now: now, metrics: m, log: log}
}

// Validate requires non-negative amounts and, per currency, debits equal
// to credits.
func (l *ledger) Validate(entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return &models.LedgerError{Detail: "no entries"}
	}

	debits := map[string]decimal.Decimal{}
	credits := map[string]decimal.Decimal{}
	for _, e := range entries {
		if e.Amount.IsNegative() {
			return &models.LedgerError{Currency: e.Currency, Detail: fmt.Sprintf("negative amount %s on %s", e.Amount, e.AccountType)}
		}
		if !e.AccountType.Valid() {
			return &models.LedgerError{Currency: e.Currency, Detail: fmt.Sprintf("unknown account %q", e.AccountType)}
		}
		switch e.EntryType {
		case models.EntryDebit:
			debits[e.Currency] = debits[e.Currency].Add(e.Amount)
		case models.EntryCredit:
			credits[e.Currency] = credits[e.Currency].Add(e.Amount)
		default:
			return &models.LedgerError{Currency: e.Currency, Detail: fmt.Sprintf("unknown entry type %q", e.EntryType)}
		}
	}

	currencies := make([]string, 0, len(debits)+len(credits))
	for c := range debits {
		currencies = append(currencies, c)
	}
	for c := range credits {
		if _, ok := debits[c]; !ok {
			currencies = append(currencies, c)
		}
	}
	sort.Strings(currencies)

	for _, c := range currencies {
		if !debits[c].Equal(credits[c]) {
			return &models.LedgerError{Currency: c, Debits: debits[c], Credits: credits[c]}
		}
	}
	return nil
}

// Post validates and appends entries for one transaction inside tx.
func (l *ledger) Post(ctx context.Context, tx repository.Tx, transactionID uuid.UUID, entries []models.LedgerEntry) error {
	if err := l.Validate(entries); err != nil {
		l.log.Error("Refusing unbalanced ledger posting",
			logger.UUIDField("transaction_id", transactionID),
			logger.ErrorField("error", err))
		return err
	}

	at := l.now()
	stamped := make([]models.LedgerEntry, len(entries))
	for i, e := range entries {
		e.ID = uuid.New()
		e.TransactionID = transactionID
		e.CreatedAt = at
		stamped[i] = e
	}

	if err := tx.Ledger().Append(ctx, stamped); err != nil {
		return fmt.Errorf("post ledger entries: %w", err)
	}

	for _, e := range stamped {
		l.metrics.LedgerEntry(string(e.AccountType), string(e.EntryType))
	}
	return nil
}
