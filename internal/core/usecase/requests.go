package usecase

import (
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
)

// Clock returns the current time; injected so tests can pin it.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

type ReceiveRequest struct {
	User        models.User
	Amount      models.Money
	Details     models.ReceiveDetails
	Description string
}

type BankTransferRequest struct {
	User        models.User
	Amount      models.Money
	Account     models.BankAccount
	Description string
}

type WalletTransferRequest struct {
	User        models.User
	Amount      models.Money
	Details     models.WalletTransferDetails
	Description string
}

type QuoteRequest struct {
	Type   models.TransactionType
	Amount models.Money
}
