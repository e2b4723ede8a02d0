package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

type AccountType string

const (
	AccountUserWallet AccountType = "USER_WALLET"
	AccountRevenue    AccountType = "REVENUE"
	AccountFees       AccountType = "FEES"
	AccountPending    AccountType = "PENDING"
	AccountLocked     AccountType = "LOCKED"
	AccountFloat      AccountType = "FLOAT"
)

func (a AccountType) Valid() bool {
	switch a {
	case AccountUserWallet, AccountRevenue, AccountFees, AccountPending, AccountLocked, AccountFloat:
		return true
	}
	return false
}

// LedgerEntry is one immutable half of a double-entry posting.
type LedgerEntry struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	TransactionID uuid.UUID           `json:"transaction_id" db:"transaction_id"`
	EntryType     EntryType           `json:"entry_type" db:"entry_type"`
	AccountType   AccountType         `json:"account_type" db:"account_type"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	Currency      string              `json:"currency" db:"currency"`
	WalletID      uuid.NullUUID       `json:"wallet_id" db:"wallet_id"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after" db:"balance_after"`
	Description   string              `json:"description" db:"description"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

func Debit(account AccountType, amount Money, description string) LedgerEntry {
	return LedgerEntry{EntryType: EntryDebit, AccountType: account, Amount: amount.Amount, Currency: amount.Currency, Description: description}
}

func Credit(account AccountType, amount Money, description string) LedgerEntry {
	return LedgerEntry{EntryType: EntryCredit, AccountType: account, Amount: amount.Amount, Currency: amount.Currency, Description: description}
}

// ForWallet attaches a wallet and its post-mutation available balance.
func (e LedgerEntry) ForWallet(w *Wallet) LedgerEntry {
	e.WalletID = uuid.NullUUID{UUID: w.ID, Valid: true}
	e.BalanceAfter = decimal.NewNullDecimal(w.AvailableBalance)
	return e
}
