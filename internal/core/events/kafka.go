package events

import (
	"context"
	"fmt"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const flushTimeoutMs = 5000

// KafkaPublisher produces transaction events keyed by transaction id, so
// every event of one transaction lands on the same partition in order.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      logger.Logger
}

func NewKafkaPublisher(brokers, topic string, log logger.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info("Kafka producer created",
		logger.StringField("brokers", brokers),
		logger.StringField("topic", topic))
	return &KafkaPublisher{producer: producer, topic: topic, log: log}, nil
}

// Publish blocks until the broker acknowledges the message or ctx ends.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	delivery := make(chan kafka.Event, 1)

	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.AggregateID.String()),
		Value:          event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Timestamp: event.CreatedAt,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce %s: %w", event.EventType, err)
	}

	select {
	case e := <-delivery:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("deliver %s: %w", event.EventType, msg.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		p.log.Warn("Kafka producer closed with undelivered messages", logger.IntField("remaining", remaining))
	}
	p.producer.Close()
}
