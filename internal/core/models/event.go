package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTransactionCreated    EventType = "transaction.created"
	EventTransactionProcessing EventType = "transaction.processing"
	EventTransactionCompleted  EventType = "transaction.completed"
	EventTransactionFailed     EventType = "transaction.failed"
	EventTransactionCancelled  EventType = "transaction.cancelled"
)

// EventFor maps a status to the lifecycle event announcing it.
func EventFor(status TransactionStatus) EventType {
	switch status {
	case StatusProcessing:
		return EventTransactionProcessing
	case StatusCompleted:
		return EventTransactionCompleted
	case StatusFailed:
		return EventTransactionFailed
	case StatusCancelled:
		return EventTransactionCancelled
	default:
		return EventTransactionCreated
	}
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is written in the same unit of work as the change it describes.
type OutboxEvent struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	EventType     EventType       `json:"event_type" db:"event_type"`
	Payload       json.RawMessage `json:"payload" db:"-"`
	Status        OutboxStatus    `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty" db:"published_at"`
}

func NewTransactionEvent(t *Transaction, at time.Time) (OutboxEvent, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateID:   t.ID,
		EventType:     EventFor(t.Status),
		Payload:       payload,
		Status:        OutboxPending,
		NextAttemptAt: at,
		CreatedAt:     at,
	}, nil
}
