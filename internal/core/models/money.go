package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountPlaces is the number of fractional digits kept for transactional amounts.
	AmountPlaces int32 = 2
	// RatePlaces is the number of fractional digits kept for exchange rates.
	RatePlaces int32 = 6
)

var amountRegexp = regexp.MustCompile(`^\d{1,13}([.]\d{1,2})?$`)

// Money is a fixed-point amount bound to an ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

func ZeroMoney(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

// ParseMoney accepts "123", "123.4" or "123,45" and rejects anything with
// more than two fractional digits instead of truncating it.
func ParseMoney(amount, currency string) (Money, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(amount), ",", ".")
	if !amountRegexp.MatchString(cleaned) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !IsCurrencyCode(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewMoney(d, currency), nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

// Round rounds half-up to two places. Amounts here are never negative, so
// shopspring's half-away-from-zero rounding is half-up.
func (m Money) Round() Money {
	return NewMoney(m.Amount.Round(AmountPlaces), m.Currency)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.LessThan(other.Amount)
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(AmountPlaces) + " " + m.Currency
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// IsCurrencyCode reports whether code is shaped like an ISO 4217 code.
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
