package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateDirection selects which side of the spread a conversion uses.
type RateDirection string

const (
	// DirectionSell converts base into quote by multiplying with the sell rate.
	DirectionSell RateDirection = "sell"
	// DirectionBuy converts quote into base by dividing by the buy rate.
	DirectionBuy RateDirection = "buy"
)

// ExchangeRate is directional: a XOF/EUR row says nothing about EUR/XOF.
type ExchangeRate struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	BaseCurrency  string          `json:"base_currency" db:"base_currency"`
	QuoteCurrency string          `json:"quote_currency" db:"quote_currency"`
	Rate          decimal.Decimal `json:"rate" db:"rate"`
	BuyRate       decimal.Decimal `json:"buy_rate" db:"buy_rate"`
	SellRate      decimal.Decimal `json:"sell_rate" db:"sell_rate"`
	Source        string          `json:"source" db:"source"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	EffectiveFrom time.Time       `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty" db:"effective_to"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// EffectiveAt reports whether the row applies at the given instant.
func (r ExchangeRate) EffectiveAt(at time.Time) bool {
	if !r.IsActive || r.EffectiveFrom.After(at) {
		return false
	}
	return r.EffectiveTo == nil || r.EffectiveTo.After(at)
}

// CurrencyConversion records a conversion applied to a completed transaction.
type CurrencyConversion struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	TransactionID  uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	FromCurrency   string          `json:"from_currency" db:"from_currency"`
	ToCurrency     string          `json:"to_currency" db:"to_currency"`
	FromAmount     decimal.Decimal `json:"from_amount" db:"from_amount"`
	ToAmount       decimal.Decimal `json:"to_amount" db:"to_amount"`
	ExchangeRateID uuid.NullUUID   `json:"exchange_rate_id" db:"exchange_rate_id"`
	RateApplied    decimal.Decimal `json:"rate_applied" db:"rate_applied"`
	ConvertedAt    time.Time       `json:"converted_at" db:"converted_at"`
}
