package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeePolicy prices one transaction type: fixed + percentage, clamped to [min, max].
type FeePolicy struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	TransactionType TransactionType     `json:"transaction_type" db:"transaction_type"`
	FixedFee        decimal.Decimal     `json:"fixed_fee" db:"fixed_fee"`
	PercentageFee   decimal.Decimal     `json:"percentage_fee" db:"percentage_fee"` // 1.5 means 1.5%
	MinFee          decimal.Decimal     `json:"min_fee" db:"min_fee"`
	MaxFee          decimal.NullDecimal `json:"max_fee" db:"max_fee"`
	Currency        string              `json:"currency" db:"currency"`
	IsActive        bool                `json:"is_active" db:"is_active"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
}

// Calculate rounds half-up to two places exactly once, after clamping.
func (p FeePolicy) Calculate(amount decimal.Decimal) decimal.Decimal {
	fee := p.FixedFee.Add(amount.Mul(p.PercentageFee).Div(hundred))
	if fee.LessThan(p.MinFee) {
		fee = p.MinFee
	}
	if p.MaxFee.Valid && fee.GreaterThan(p.MaxFee.Decimal) {
		fee = p.MaxFee.Decimal
	}
	return fee.Round(AmountPlaces)
}

// TransactionLimit caps volumes for one KYC tier.
type TransactionLimit struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	KYCLevel             int             `json:"kyc_level" db:"kyc_level"`
	DailyReceiveLimit    decimal.Decimal `json:"daily_receive_limit" db:"daily_receive_limit"`
	DailySendLimit       decimal.Decimal `json:"daily_send_limit" db:"daily_send_limit"`
	MinTransactionAmount decimal.Decimal `json:"min_transaction_amount" db:"min_transaction_amount"`
	MaxTransactionAmount decimal.Decimal `json:"max_transaction_amount" db:"max_transaction_amount"`
	Currency             string          `json:"currency" db:"currency"`
	IsActive             bool            `json:"is_active" db:"is_active"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

func (l TransactionLimit) DailyLimit(d Direction) decimal.Decimal {
	if d == DirectionReceive {
		return l.DailyReceiveLimit
	}
	return l.DailySendLimit
}

// Quote previews what a transaction would cost without writing anything.
type Quote struct {
	Type         TransactionType     `json:"type"`
	Amount       Money               `json:"amount"`
	Converted    *Money              `json:"converted,omitempty"`
	ExchangeRate decimal.NullDecimal `json:"exchange_rate"`
	Fee          Money               `json:"fee"`
	Total        Money               `json:"total"`
	Net          Money               `json:"net"`
}
