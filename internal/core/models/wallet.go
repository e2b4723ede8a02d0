package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds one user's balance in one currency.
type Wallet struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	Currency         string          `json:"currency" db:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance" db:"pending_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

func (w Wallet) TotalBalance() decimal.Decimal {
	return w.AvailableBalance.Add(w.PendingBalance).Add(w.LockedBalance)
}

func (w Wallet) Available() Money {
	return NewMoney(w.AvailableBalance, w.Currency)
}

// User is the verified caller identity handed in by the API layer.
type User struct {
	ID       uuid.UUID `json:"id"`
	KYCLevel int       `json:"kyc_level"`
}
