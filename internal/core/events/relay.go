package events

import (
	"context"
	"errors"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/sony/gobreaker"
)

const (
	MaxAttempts  = 5
	retryBackoff = 10 * time.Second
)

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// BreakerFailures consecutive publish errors open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Relay moves committed outbox rows to the Publisher.
type Relay struct {
	store     repository.Store
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Engine
	log       logger.Logger
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

func NewRelay(store repository.Store, publisher Publisher, m *metrics.Engine, log logger.Logger, cfg RelayConfig) *Relay {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				logger.StringField("breaker", name),
				logger.StringField("from", from.String()),
				logger.StringField("to", to.String()))
		},
	})

	return &Relay{
		store:     store,
		publisher: publisher,
		breaker:   breaker,
		metrics:   m,
		log:       log,
		now:       now,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info("Outbox relay started", logger.DurationField("poll_interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("Outbox flush failed", logger.ErrorField("error", err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("Outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of due events and returns how many were
// published. Claimed rows stay locked until the batch is recorded.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	err := r.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		published = 0
		now := r.now()
		batch, err := tx.Outbox().ClaimPending(ctx, now, r.batchSize)
		if err != nil {
			return err
		}

		for _, event := range batch {
			_, err := r.breaker.Execute(func() (any, error) {
				return nil, r.publisher.Publish(ctx, event)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				r.metrics.OutboxResult("deferred")
				r.log.Warn("Publisher unavailable, deferring outbox batch", logger.ErrorField("error", err))
				return nil
			}
			if err != nil {
				if err := r.reschedule(ctx, tx, event, now, err); err != nil {
					return err
				}
				continue
			}

			if err := tx.Outbox().MarkPublished(ctx, event.ID, now); err != nil {
				return err
			}
			r.metrics.OutboxResult("published")
			published++
		}
		return nil
	})
	return published, err
}

func (r *Relay) reschedule(ctx context.Context, tx repository.Tx, event models.OutboxEvent, now time.Time, cause error) error {
	attempts := event.Attempts + 1
	status := models.OutboxPending
	next := now.Add(time.Duration(attempts) * retryBackoff)
	if attempts >= MaxAttempts {
		status = models.OutboxFailed
	}

	fields := []logger.Field{
		logger.UUIDField("event_id", event.ID),
		logger.StringField("event_type", string(event.EventType)),
		logger.IntField("attempts", attempts),
		logger.ErrorField("error", cause),
	}
	if status == models.OutboxFailed {
		r.metrics.OutboxResult("failed")
		r.log.Error("Outbox event abandoned", fields...)
	} else {
		r.metrics.OutboxResult("retry")
		r.log.Warn("Outbox event publish failed, will retry", fields...)
	}
	return tx.Outbox().Reschedule(ctx, event.ID, attempts, next, status)
}
