package events

import (
	"context"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
)

// Publisher delivers one outbox event to downstream consumers. Delivery is
// at least once; consumers dedupe on the event id.
type Publisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log logger.Logger
}

func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event models.OutboxEvent) error {
	p.log.Info("Transaction event",
		logger.UUIDField("event_id", event.ID),
		logger.StringField("event_type", string(event.EventType)),
		logger.UUIDField("transaction_id", event.AggregateID))
	return nil
}
