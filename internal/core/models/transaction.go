package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of business intents the engine handles.
type TransactionType string

const (
	TransactionReceiveMobileMoney TransactionType = "RECEIVE_MOBILE_MONEY"
	TransactionSendBankTransfer   TransactionType = "SEND_BANK_TRANSFER"
	TransactionWalletToWallet     TransactionType = "WALLET_TO_WALLET"
	TransactionFee                TransactionType = "FEE"
	TransactionRefund             TransactionType = "REFUND"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionReceiveMobileMoney, TransactionSendBankTransfer, TransactionWalletToWallet,
		TransactionFee, TransactionRefund:
		return true
	}
	return false
}

// Direction is the limit bucket a transaction type counts against.
type Direction string

const (
	DirectionNone    Direction = ""
	DirectionSend    Direction = "SEND"
	DirectionReceive Direction = "RECEIVE"
)

func (t TransactionType) Direction() Direction {
	switch t {
	case TransactionReceiveMobileMoney:
		return DirectionReceive
	case TransactionSendBankTransfer, TransactionWalletToWallet:
		return DirectionSend
	default:
		return DirectionNone
	}
}

// TypesFor lists the transaction types counted in a direction's volume.
func TypesFor(d Direction) []TransactionType {
	switch d {
	case DirectionReceive:
		return []TransactionType{TransactionReceiveMobileMoney}
	case DirectionSend:
		return []TransactionType{TransactionSendBankTransfer, TransactionWalletToWallet}
	}
	return nil
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusRefunded   TransactionStatus = "REFUNDED"
)

// VolumeStatuses are the statuses whose amounts count towards daily limits.
var VolumeStatuses = []TransactionStatus{StatusPending, StatusProcessing, StatusCompleted}

func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID                    uuid.UUID           `json:"id" db:"id"`
	UserID                uuid.UUID           `json:"user_id" db:"user_id"`
	Type                  TransactionType     `json:"type" db:"transaction_type"`
	Status                TransactionStatus   `json:"status" db:"status"`
	Amount                decimal.Decimal     `json:"amount" db:"amount"`
	Currency              string              `json:"currency" db:"currency"`
	OriginalAmount        decimal.NullDecimal `json:"original_amount" db:"original_amount"`
	OriginalCurrency      string              `json:"original_currency,omitempty" db:"original_currency"`
	ExchangeRate          decimal.NullDecimal `json:"exchange_rate" db:"exchange_rate"`
	ExchangeRateID        uuid.NullUUID       `json:"exchange_rate_id" db:"exchange_rate_id"`
	FeeAmount             decimal.Decimal     `json:"fee_amount" db:"fee_amount"`
	FeeCurrency           string              `json:"fee_currency" db:"fee_currency"`
	SourceWalletID        uuid.NullUUID       `json:"source_wallet_id" db:"source_wallet_id"`
	DestinationWalletID   uuid.NullUUID       `json:"destination_wallet_id" db:"destination_wallet_id"`
	ExternalTransactionID string              `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	Description           string              `json:"description" db:"description"`
	Metadata              map[string]any      `json:"metadata,omitempty" db:"-"`
	ErrorCode             string              `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage          string              `json:"error_message,omitempty" db:"error_message"`
	InitiatedAt           time.Time           `json:"initiated_at" db:"initiated_at"`
	CompletedAt           *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt             time.Time           `json:"updated_at" db:"updated_at"`
}

// Total is amount plus fee, the sum reserved by outbound transfers.
func (t *Transaction) Total() decimal.Decimal {
	return t.Amount.Add(t.FeeAmount)
}

func (t *Transaction) Converted() bool {
	return t.OriginalCurrency != "" && t.OriginalCurrency != t.Currency
}

// TransitionTo moves the transaction to next or reports why it cannot.
func (t *Transaction) TransitionTo(next TransactionStatus, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return &TransitionError{TransactionID: t.ID, From: t.Status, To: next}
	}
	t.Status = next
	t.UpdatedAt = at
	if next == StatusCompleted {
		completed := at
		t.CompletedAt = &completed
	}
	return nil
}

// FailureReason is what the payout rail or provider reported.
type FailureReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Details is the closed set of type-specific inputs.
type Details interface {
	transactionType() TransactionType
	metadata() map[string]any
}

type ReceiveDetails struct {
	Provider              string `json:"provider" validate:"required"`
	PhoneNumber           string `json:"phone_number" validate:"required"`
	ExternalTransactionID string `json:"external_transaction_id"`
}

func (ReceiveDetails) transactionType() TransactionType { return TransactionReceiveMobileMoney }

func (d ReceiveDetails) metadata() map[string]any {
	return map[string]any{
		"provider":     d.Provider,
		"phone_number": d.PhoneNumber,
	}
}

type BankAccount struct {
	ID         uuid.UUID `json:"id" validate:"required"`
	BankName   string    `json:"bank_name" validate:"required"`
	HolderName string    `json:"holder_name"`
	IBAN       string    `json:"iban" validate:"required,min=15,max=34"`
}

func (BankAccount) transactionType() TransactionType { return TransactionSendBankTransfer }

// metadata keeps only the last four IBAN characters.
func (a BankAccount) metadata() map[string]any {
	return map[string]any{
		"bank_account_id": a.ID.String(),
		"iban":            a.IBANSuffix(),
	}
}

func (a BankAccount) IBANSuffix() string {
	if len(a.IBAN) <= 4 {
		return a.IBAN
	}
	return a.IBAN[len(a.IBAN)-4:]
}

type WalletTransferDetails struct {
	RecipientID uuid.UUID `json:"recipient_id" validate:"required"`
	Note        string    `json:"note"`
}

func (WalletTransferDetails) transactionType() TransactionType { return TransactionWalletToWallet }

func (d WalletTransferDetails) metadata() map[string]any {
	m := map[string]any{"recipient_id": d.RecipientID.String()}
	if d.Note != "" {
		m["note"] = d.Note
	}
	return m
}

func TypeOf(d Details) TransactionType { return d.transactionType() }

func MetadataOf(d Details) map[string]any { return d.metadata() }
