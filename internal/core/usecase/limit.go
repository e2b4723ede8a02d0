package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
)

const limitWindow = 24 * time.Hour

type LimitPolicy interface {
	// Check returns a *models.LimitError when the transaction is denied.
	// volume must read inside the caller's unit of work.
	Check(ctx context.Context, volume repository.VolumeReader, user models.User, t models.TransactionType, amount models.Money) error
}

type limitPolicy struct {
	repo repository.LimitRepository
	now  Clock
	log  logger.Logger
}

func NewLimitPolicy(repo repository.LimitRepository, now Clock, log logger.Logger) LimitPolicy {
	return &limitPolicy{repo: repo, now: now, log: log}
}

func (p *limitPolicy) Check(ctx context.Context, volume repository.VolumeReader, user models.User, t models.TransactionType, amount models.Money) error {
	direction := t.Direction()
	if direction == models.DirectionNone {
		return nil
	}

	limit, err := p.repo.ForLevel(ctx, user.KYCLevel)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get transaction limits: %w", err)
	}
	if err != nil || !limit.IsActive {
		return &models.LimitError{Reason: fmt.Sprintf("no active limits for KYC level %d", user.KYCLevel)}
	}
	if limit.Currency != amount.Currency {
		return &models.LimitError{Reason: fmt.Sprintf("limits for KYC level %d are in %s, not %s",
			user.KYCLevel, limit.Currency, amount.Currency)}
	}

	if amount.Amount.LessThan(limit.MinTransactionAmount) {
		return &models.LimitError{Reason: "below minimum transaction amount",
			Limit: limit.MinTransactionAmount, Attempted: amount.Amount}
	}
	if amount.Amount.GreaterThan(limit.MaxTransactionAmount) {
		return &models.LimitError{Reason: "above maximum transaction amount",
			Limit: limit.MaxTransactionAmount, Attempted: amount.Amount}
	}

	used, err := volume.SumVolume(ctx, repository.VolumeFilter{
		UserID:     user.ID,
		Types:      models.TypesFor(direction),
		Statuses:   models.VolumeStatuses,
		Currency:   amount.Currency,
		Since:      p.now().Add(-limitWindow),
		IncludeFee: direction == models.DirectionReceive,
	})
	if err != nil {
		return fmt.Errorf("sum daily volume: %w", err)
	}

	daily := limit.DailyLimit(direction)
	attempted := used.Add(amount.Amount)
	if attempted.GreaterThan(daily) {
		p.log.Warn("Daily limit exceeded",
			logger.UUIDField("user_id", user.ID),
			logger.StringField("direction", string(direction)),
			logger.DecimalField("used", used),
			logger.DecimalField("limit", daily))
		return &models.LimitError{
			Reason:    fmt.Sprintf("daily %s limit", strings.ToLower(string(direction))),
			Limit:     daily,
			Attempted: attempted,
		}
	}
	return nil
}
