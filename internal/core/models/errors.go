package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrWalletInactive          = errors.New("wallet is inactive")
	ErrRateUnavailable         = errors.New("exchange rate unavailable")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrUnbalancedLedgerEntry   = errors.New("unbalanced ledger entries")
	ErrLimitExceeded           = errors.New("transaction limit exceeded")
	ErrInvariantViolation      = errors.New("invariant violation")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrInvalidAmount           = errors.New("amount must be positive with at most two decimal places")
	ErrUnsupportedCurrency     = errors.New("unsupported currency")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrTransactionTypeMismatch = errors.New("operation does not apply to this transaction type")
	ErrSameWallet              = errors.New("source and destination wallet are the same")
)

// RateError carries the pair for which no active rate exists.
type RateError struct {
	Base  string
	Quote string
}

func (e *RateError) Error() string {
	return fmt.Sprintf("%v: %s/%s", ErrRateUnavailable, e.Base, e.Quote)
}

func (e *RateError) Unwrap() error { return ErrRateUnavailable }

// LimitError names the limit a transaction would breach.
type LimitError struct {
	Reason    string
	Limit     decimal.Decimal
	Attempted decimal.Decimal
}

func (e *LimitError) Error() string {
	if e.Limit.IsZero() && e.Attempted.IsZero() {
		return fmt.Sprintf("%v: %s", ErrLimitExceeded, e.Reason)
	}
	return fmt.Sprintf("%v: %s (limit %s, attempted %s)", ErrLimitExceeded, e.Reason,
		e.Limit.StringFixed(AmountPlaces), e.Attempted.StringFixed(AmountPlaces))
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

type TransitionError struct {
	TransactionID uuid.UUID
	From          TransactionStatus
	To            TransactionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: transaction %s cannot move from %s to %s", ErrInvalidStateTransition, e.TransactionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

type LedgerError struct {
	Currency string
	Debits   decimal.Decimal
	Credits  decimal.Decimal
	Detail   string
}

func (e *LedgerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", ErrUnbalancedLedgerEntry, e.Detail)
	}
	return fmt.Sprintf("%v: %s debits %s != credits %s", ErrUnbalancedLedgerEntry, e.Currency,
		e.Debits.StringFixed(AmountPlaces), e.Credits.StringFixed(AmountPlaces))
}

func (e *LedgerError) Unwrap() error { return ErrUnbalancedLedgerEntry }

// WalletError ties a wallet failure to the wallet it happened on.
type WalletError struct {
	WalletID uuid.UUID
	Err      error
}

func NewWalletError(walletID uuid.UUID, err error) *WalletError {
	return &WalletError{WalletID: walletID, Err: err}
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("%v: wallet %s", e.Err, e.WalletID)
}

func (e *WalletError) Unwrap() error { return e.Err }
