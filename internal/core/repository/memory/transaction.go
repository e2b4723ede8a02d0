package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type transactionRepo memTx

func (r *transactionRepo) Create(_ context.Context, t *models.Transaction) error {
	if _, ok := r.st.transactions[t.ID]; ok {
		return fmt.Errorf("transaction %s already exists", t.ID)
	}
	r.st.transactions[t.ID] = *t
	return nil
}

func (r *transactionRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, ok := r.st.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, id)
	}
	return &t, nil
}

func (r *transactionRepo) UpdateStatus(_ context.Context, t *models.Transaction) error {
	cur, ok := r.st.transactions[t.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTransactionNotFound, t.ID)
	}
	cur.Status = t.Status
	cur.ErrorCode = t.ErrorCode
	cur.ErrorMessage = t.ErrorMessage
	cur.CompletedAt = t.CompletedAt
	cur.UpdatedAt = t.UpdatedAt
	r.st.transactions[t.ID] = cur
	return nil
}

func (r *transactionRepo) SumVolume(_ context.Context, f repository.VolumeFilter) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range r.st.transactions {
		if t.UserID != f.UserID || t.Currency != f.Currency || t.InitiatedAt.Before(f.Since) {
			continue
		}
		if !slices.Contains(f.Types, t.Type) || !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		total = total.Add(t.Amount)
		if f.IncludeFee {
			total = total.Add(t.FeeAmount)
		}
	}
	return total, nil
}

type ledgerRepo memTx

func (r *ledgerRepo) Append(_ context.Context, entries []models.LedgerEntry) error {
	r.st.ledger = append(r.st.ledger, entries...)
	return nil
}

func (r *ledgerRepo) ListByTransaction(_ context.Context, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	return entriesFor(r.st.ledger, transactionID), nil
}

func entriesFor(ledger []models.LedgerEntry, transactionID uuid.UUID) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range ledger {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

type conversionRepo memTx

func (r *conversionRepo) Create(_ context.Context, c *models.CurrencyConversion) error {
	if _, ok := r.st.conversions[c.TransactionID]; ok {
		return fmt.Errorf("conversion for transaction %s already recorded", c.TransactionID)
	}
	r.st.conversions[c.TransactionID] = *c
	return nil
}

type outboxRepo memTx

func (r *outboxRepo) Add(_ context.Context, e models.OutboxEvent) error {
	r.st.outbox = append(r.st.outbox, e)
	return nil
}

func (r *outboxRepo) ClaimPending(_ context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	var due []models.OutboxEvent
	for _, e := range r.st.outbox {
		if e.Status == models.OutboxPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *outboxRepo) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.Status = models.OutboxPublished
		published := at
		e.PublishedAt = &published
	})
}

func (r *outboxRepo) Reschedule(_ context.Context, id uuid.UUID, attempts int, next time.Time, status models.OutboxStatus) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.Attempts = attempts
		e.NextAttemptAt = next
		e.Status = status
	})
}

func (r *outboxRepo) update(id uuid.UUID, fn func(e *models.OutboxEvent)) error {
	for i := range r.st.outbox {
		if r.st.outbox[i].ID == id {
			fn(&r.st.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}
