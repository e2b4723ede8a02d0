package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
)

type FeeCalculator interface {
	FeeFor(ctx context.Context, t models.TransactionType, amount models.Money) (models.Money, error)
}

type feeCalculator struct {
	repo repository.FeeRepository
	log  logger.Logger
}

func NewFeeCalculator(repo repository.FeeRepository, log logger.Logger) FeeCalculator {
	return &feeCalculator{repo: repo, log: log}
}

// FeeFor returns a zero fee when no active policy exists for t.
func (c *feeCalculator) FeeFor(ctx context.Context, t models.TransactionType, amount models.Money) (models.Money, error) {
	policy, err := c.repo.Active(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.log.Debug("No fee policy, charging zero", logger.StringField("type", string(t)))
			return models.ZeroMoney(amount.Currency), nil
		}
		return models.Money{}, fmt.Errorf("get fee policy: %w", err)
	}

	if policy.Currency != amount.Currency {
		return models.Money{}, fmt.Errorf("%w: %s fee policy is in %s, amount is in %s",
			models.ErrCurrencyMismatch, t, policy.Currency, amount.Currency)
	}

	return models.NewMoney(policy.Calculate(amount.Amount), amount.Currency), nil
}
