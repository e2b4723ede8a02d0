package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
)

type ExchangeRateProvider interface {
	CurrentRate(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRate, error)
	Convert(rate *models.ExchangeRate, amount models.Money, direction models.RateDirection) (models.Money, error)
}

type exchangeRateProvider struct {
	repo repository.ExchangeRateRepository
	log  logger.Logger
}

func NewExchangeRateProvider(repo repository.ExchangeRateRepository, log logger.Logger) ExchangeRateProvider {
	return &exchangeRateProvider{repo: repo, log: log}
}

// CurrentRate never inverts: a missing base/quote row is an error even when
// quote/base exists.
func (p *exchangeRateProvider) CurrentRate(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRate, error) {
	rate, err := p.repo.Current(ctx, base, quote, at)
	if err != nil {
		if errors.Is(err, models.ErrRateUnavailable) {
			p.log.Error("No active exchange rate",
				logger.StringField("base", base),
				logger.StringField("quote", quote))
			return nil, &models.RateError{Base: base, Quote: quote}
		}
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}
	return rate, nil
}

// Convert applies the sell rate to base amounts and divides quote amounts by
// the buy rate. The result is rounded half-up to two places.
func (p *exchangeRateProvider) Convert(rate *models.ExchangeRate, amount models.Money, direction models.RateDirection) (models.Money, error) {
	switch direction {
	case models.DirectionSell:
		if amount.Currency != rate.BaseCurrency {
			return models.Money{}, fmt.Errorf("%w: sell %s with %s/%s rate", models.ErrCurrencyMismatch,
				amount.Currency, rate.BaseCurrency, rate.QuoteCurrency)
		}
		return models.NewMoney(amount.Amount.Mul(rate.SellRate), rate.QuoteCurrency).Round(), nil
	case models.DirectionBuy:
		if amount.Currency != rate.QuoteCurrency {
			return models.Money{}, fmt.Errorf("%w: buy %s with %s/%s rate", models.ErrCurrencyMismatch,
				amount.Currency, rate.BaseCurrency, rate.QuoteCurrency)
		}
		if !rate.BuyRate.IsPositive() {
			return models.Money{}, &models.RateError{Base: rate.BaseCurrency, Quote: rate.QuoteCurrency}
		}
		return models.NewMoney(amount.Amount.DivRound(rate.BuyRate, models.AmountPlaces), rate.BaseCurrency), nil
	default:
		return models.Money{}, fmt.Errorf("unknown rate direction %q", direction)
	}
}
