package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sqlc-dev/pqtype"
)

const outboxColumns = `id, aggregate_id, event_type, payload, status, attempts, next_attempt_at, created_at, published_at`

type outboxRow struct {
	models.OutboxEvent
	Payload pqtype.NullRawMessage `db:"payload"`
}

type outboxRepo struct {
	q sqlx.ExtContext
}

func (r *outboxRepo) Add(ctx context.Context, e models.OutboxEvent) error {
	const query = `INSERT INTO outbox_events (` + outboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	payload := pqtype.NullRawMessage{RawMessage: e.Payload, Valid: len(e.Payload) > 0}
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.AggregateID, e.EventType, payload, e.Status, e.Attempts, e.NextAttemptAt, e.CreatedAt, e.PublishedAt)
	if err != nil {
		return fmt.Errorf("add outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepo) ClaimPending(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	const query = `SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	var rows []outboxRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, models.OutboxPending, now, limit); err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}

	events := make([]models.OutboxEvent, len(rows))
	for i, row := range rows {
		events[i] = row.OutboxEvent
		events[i].Payload = row.Payload.RawMessage
	}
	return events, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE outbox_events SET status = $2, published_at = $3 WHERE id = $1`
	if _, err := r.q.ExecContext(ctx, query, id, models.OutboxPublished, at); err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (r *outboxRepo) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, status models.OutboxStatus) error {
	const query = `UPDATE outbox_events SET attempts = $2, next_attempt_at = $3, status = $4 WHERE id = $1`
	if _, err := r.q.ExecContext(ctx, query, id, attempts, next, status); err != nil {
		return fmt.Errorf("reschedule outbox event: %w", err)
	}
	return nil
}
