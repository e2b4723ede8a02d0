package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionUsecase interface {
	CreateReceive(ctx context.Context, req ReceiveRequest) (*models.Transaction, error)
	CompleteReceive(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FailReceive(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error)

	CreateBankTransfer(ctx context.Context, req BankTransferRequest) (*models.Transaction, error)
	StartProcessing(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	CompleteBankTransfer(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FailBankTransfer(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error)
	CancelBankTransfer(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error)

	TransferWalletToWallet(ctx context.Context, req WalletTransferRequest) (*models.Transaction, error)

	Complete(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error)

	Quote(ctx context.Context, req QuoteRequest) (*models.Quote, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListLedgerEntries(ctx context.Context, id uuid.UUID) ([]models.LedgerEntry, error)
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
}

// Dependencies wires the orchestrator's collaborators.
type Dependencies struct {
	Store        repository.Store
	Ledger       Ledger
	Rates        ExchangeRateProvider
	Fees         FeeCalculator
	Limits       LimitPolicy
	Metrics      *metrics.Engine
	Log          logger.Logger
	Clock        Clock
	HomeCurrency string
}

type transactionUsecase struct {
	store        repository.Store
	ledger       Ledger
	rates        ExchangeRateProvider
	fees         FeeCalculator
	limits       LimitPolicy
	metrics      *metrics.Engine
	log          logger.Logger
	now          Clock
	homeCurrency string
}

func NewTransactionUsecase(d Dependencies) TransactionUsecase {
	now := d.Clock
	if now == nil {
		now = SystemClock
	}
	return &transactionUsecase{
		store:        d.Store,
		ledger:       d.Ledger,
		rates:        d.Rates,
		fees:         d.Fees,
		limits:       d.Limits,
		metrics:      d.Metrics,
		log:          d.Log,
		now:          now,
		homeCurrency: d.HomeCurrency,
	}
}

func (uc *transactionUsecase) CreateReceive(ctx context.Context, req ReceiveRequest) (*models.Transaction, error) {
	const op = "create_receive"
	at := uc.now()
	defer uc.metrics.ObserveDuration(op, time.Now())
	uc.logStart(op, req.User.ID, req.Amount)

	if err := uc.checkAmount(ctx, req.Amount); err != nil {
		return nil, uc.fail(op, err)
	}

	home := uc.homeCurrency
	gross := req.Amount
	var rate *models.ExchangeRate
	if req.Amount.Currency != home {
		var err error
		if rate, err = uc.rates.CurrentRate(ctx, req.Amount.Currency, home, at); err != nil {
			return nil, uc.fail(op, err)
		}
		if gross, err = uc.rates.Convert(rate, req.Amount, models.DirectionSell); err != nil {
			return nil, uc.fail(op, err)
		}
	}

	fee, err := uc.fees.FeeFor(ctx, models.TransactionReceiveMobileMoney, gross)
	if err != nil {
		return nil, uc.fail(op, err)
	}
	net, err := gross.Sub(fee)
	if err != nil {
		return nil, uc.fail(op, err)
	}
	if !net.IsPositive() {
		return nil, uc.fail(op, fmt.Errorf("%w: %s does not cover the %s fee", models.ErrInvalidAmount, gross, fee))
	}

	txn := uc.newTransaction(req.User, models.TypeOf(req.Details), net, fee, req.Description, models.MetadataOf(req.Details), at)
	txn.ExternalTransactionID = req.Details.ExternalTransactionID
	if rate != nil {
		txn.OriginalAmount = decimal.NewNullDecimal(req.Amount.Amount)
		txn.OriginalCurrency = req.Amount.Currency
		txn.ExchangeRate = decimal.NewNullDecimal(rate.SellRate)
		txn.ExchangeRateID = uuid.NullUUID{UUID: rate.ID, Valid: true}
	}

	err = uc.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.limits.Check(ctx, tx.Transactions(), req.User, txn.Type, gross); err != nil {
			return err
		}

		wallet, err := tx.Wallets().GetOrCreate(ctx, req.User.ID, home)
		if err != nil {
			return err
		}
		txn.DestinationWalletID = uuid.NullUUID{UUID: wallet.ID, Valid: true}

		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return err
		}

		entries := []models.LedgerEntry{
			models.Debit(models.AccountFloat, net, "mobile money received via "+req.Details.Provider),
			models.Credit(models.AccountPending, net, "pending receive"),
		}
		entries = append(entries, feeEntries(fee, models.AccountFees, models.AccountRevenue, "receive fee")...)
		if err := uc.ledger.Post(ctx, tx, txn.ID, entries); err != nil {
			return err
		}
		return uc.emit(ctx, tx, txn, at)
	})
	if err != nil {
		return nil, uc.fail(op, err)
	}

	uc.logSuccess(op, txn)
	return txn, nil
}

// CompleteReceive credits the wallet and records the conversion, if any.
func (uc *transactionUsecase) CompleteReceive(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return uc.transition(ctx, "complete_receive", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		if err := requireType(txn, models.TransactionReceiveMobileMoney); err != nil {
			return err
		}
		if txn.Status != models.StatusPending {
			return &models.TransitionError{TransactionID: txn.ID, From: txn.Status, To: models.StatusCompleted}
		}
		if err := txn.TransitionTo(models.StatusCompleted, at); err != nil {
			return err
		}

		wallet, err := tx.Wallets().GetForUpdate(ctx, txn.DestinationWalletID.UUID)
		if err != nil {
			return err
		}
		if wallet, err = tx.Wallets().CreditAvailable(ctx, wallet.ID, txn.Amount); err != nil {
			return err
		}
		if err := tx.Transactions().UpdateStatus(ctx, txn); err != nil {
			return err
		}

		net := models.NewMoney(txn.Amount, txn.Currency)
		err = uc.ledger.Post(ctx, tx, txn.ID, []models.LedgerEntry{
			models.Debit(models.AccountPending, net, "pending receive settled"),
			models.Credit(models.AccountUserWallet, net, "receive credited").ForWallet(wallet),
		})
		if err != nil {
			return err
		}

		if txn.Converted() {
			conversion := &models.CurrencyConversion{
				ID:             uuid.New(),
				TransactionID:  txn.ID,
				FromCurrency:   txn.OriginalCurrency,
				ToCurrency:     txn.Currency,
				FromAmount:     txn.OriginalAmount.Decimal,
				ToAmount:       txn.Total(),
				ExchangeRateID: txn.ExchangeRateID,
				RateApplied:    txn.ExchangeRate.Decimal,
				ConvertedAt:    at,
			}
			if err := tx.Conversions().Create(ctx, conversion); err != nil {
				return err
			}
		}
		return nil
	})
}

// FailReceive reverses the pending postings. No balance was touched.
func (uc *transactionUsecase) FailReceive(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error) {
	return uc.transition(ctx, "fail_receive", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		if err := requireType(txn, models.TransactionReceiveMobileMoney); err != nil {
			return err
		}
		if txn.Status != models.StatusPending {
			return &models.TransitionError{TransactionID: txn.ID, From: txn.Status, To: models.StatusFailed}
		}
		if err := txn.TransitionTo(models.StatusFailed, at); err != nil {
			return err
		}
		txn.ErrorCode, txn.ErrorMessage = reason.Code, reason.Message
		if err := tx.Transactions().UpdateStatus(ctx, txn); err != nil {
			return err
		}

		net := models.NewMoney(txn.Amount, txn.Currency)
		fee := models.NewMoney(txn.FeeAmount, txn.FeeCurrency)
		entries := []models.LedgerEntry{
			models.Debit(models.AccountPending, net, "pending receive reversed"),
			models.Credit(models.AccountFloat, net, "pending receive reversed"),
		}
		entries = append(entries, feeEntries(fee, models.AccountRevenue, models.AccountFees, "receive fee reversed")...)
		return uc.ledger.Post(ctx, tx, txn.ID, entries)
	})
}

func (uc *transactionUsecase) CreateBankTransfer(ctx context.Context, req BankTransferRequest) (*models.Transaction, error) {
	const op = "create_bank_transfer"
	at := uc.now()
	defer uc.metrics.ObserveDuration(op, time.Now())
	uc.logStart(op, req.User.ID, req.Amount)

	if err := uc.checkAmount(ctx, req.Amount); err != nil {
		return nil, uc.fail(op, err)
	}

	fee, err := uc.fees.FeeFor(ctx, models.TransactionSendBankTransfer, req.Amount)
	if err != nil {
		return nil, uc.fail(op, err)
	}
	total, err := req.Amount.Add(fee)
	if err != nil {
		return nil, uc.fail(op, err)
	}

	txn := uc.newTransaction(req.User, models.TypeOf(req.Account), req.Amount, fee, req.Description, models.MetadataOf(req.Account), at)

	err = uc.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.limits.Check(ctx, tx.Transactions(), req.User, txn.Type, req.Amount); err != nil {
			return err
		}

		wallet, err := tx.Wallets().Get(ctx, req.User.ID, req.Amount.Currency)
		if err != nil {
			return err
		}
		if wallet, err = tx.Wallets().GetForUpdate(ctx, wallet.ID); err != nil {
			return err
		}
		if !wallet.IsActive {
			return models.NewWalletError(wallet.ID, models.ErrWalletInactive)
		}
		if wallet.AvailableBalance.LessThan(total.Amount) {
			return models.NewWalletError(wallet.ID, models.ErrInsufficientFunds)
		}

		txn.SourceWalletID = uuid.NullUUID{UUID: wallet.ID, Valid: true}
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return err
		}

		if wallet, err = tx.Wallets().Lock(ctx, wallet.ID, req.Amount.Amount); err != nil {
			return err
		}
		entries := []models.LedgerEntry{
			models.Debit(models.AccountUserWallet, req.Amount, "bank transfer to "+req.Account.BankName).ForWallet(wallet),
			models.Credit(models.AccountLocked, req.Amount, "bank transfer reserved"),
		}
		if fee.IsPositive() {
			if wallet, err = tx.Wallets().Lock(ctx, wallet.ID, fee.Amount); err != nil {
				return err
			}
			entries = append(entries,
				models.Debit(models.AccountUserWallet, fee, "bank transfer fee").ForWallet(wallet),
				models.Credit(models.AccountLocked, fee, "bank transfer fee reserved"),
			)
		}
		if err := uc.ledger.Post(ctx, tx, txn.ID, entries); err != nil {
			return err
		}
		return uc.emit(ctx, tx, txn, at)
	})
	if err != nil {
		return nil, uc.fail(op, err)
	}

	uc.logSuccess(op, txn)
	return txn, nil
}

// StartProcessing marks a bank transfer as handed to the payout rail.
func (uc *transactionUsecase) StartProcessing(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return uc.transition(ctx, "start_processing", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		if err := requireType(txn, models.TransactionSendBankTransfer); err != nil {
			return err
		}
		if err := txn.TransitionTo(models.StatusProcessing, at); err != nil {
			return err
		}
		return tx.Transactions().UpdateStatus(ctx, txn)
	})
}

// CompleteBankTransfer releases the reserved funds; they leave through the
// float and the fee is recognised as revenue.
func (uc *transactionUsecase) CompleteBankTransfer(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return uc.transition(ctx, "complete_bank_transfer", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		if err := requireType(txn, models.TransactionSendBankTransfer); err != nil {
			return err
		}
		if err := txn.TransitionTo(models.StatusCompleted, at); err != nil {
			return err
		}

		total := models.NewMoney(txn.Total(), txn.Currency)
		if _, err := tx.Wallets().Release(ctx, txn.SourceWalletID.UUID, total.Amount); err != nil {
			return err
		}
		if err := tx.Transactions().UpdateStatus(ctx, txn); err != nil {
			return err
		}

		entries := []models.LedgerEntry{
			models.Debit(models.AccountLocked, total, "bank transfer settled"),
			models.Credit(models.AccountFloat, models.NewMoney(txn.Amount, txn.Currency), "bank transfer paid out"),
		}
		if txn.FeeAmount.IsPositive() {
			entries = append(entries, models.Credit(models.AccountRevenue, models.NewMoney(txn.FeeAmount, txn.FeeCurrency), "bank transfer fee"))
		}
		return uc.ledger.Post(ctx, tx, txn.ID, entries)
	})
}

func (uc *transactionUsecase) FailBankTransfer(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error) {
	return uc.transition(ctx, "fail_bank_transfer", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		return uc.releaseLock(ctx, tx, txn, models.StatusFailed, reason, at)
	})
}

func (uc *transactionUsecase) CancelBankTransfer(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error) {
	return uc.transition(ctx, "cancel_bank_transfer", id, func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
		return uc.releaseLock(ctx, tx, txn, models.StatusCancelled, reason, at)
	})
}

// releaseLock returns the reserved amount and fee to the wallet.
func (uc *transactionUsecase) releaseLock(ctx context.Context, tx repository.Tx, txn *models.Transaction, next models.TransactionStatus, reason models.FailureReason, at time.Time) error {
	if err := requireType(txn, models.TransactionSendBankTransfer); err != nil {
		return err
	}
	if err := txn.TransitionTo(next, at); err != nil {
		return err
	}
	txn.ErrorCode, txn.ErrorMessage = reason.Code, reason.Message

	total := models.NewMoney(txn.Total(), txn.Currency)
	wallet, err := tx.Wallets().Unlock(ctx, txn.SourceWalletID.UUID, total.Amount)
	if err != nil {
		return err
	}
	if err := tx.Transactions().UpdateStatus(ctx, txn); err != nil {
		return err
	}

	return uc.ledger.Post(ctx, tx, txn.ID, []models.LedgerEntry{
		models.Debit(models.AccountLocked, total, "bank transfer reservation released"),
		models.Credit(models.AccountUserWallet, total, "bank transfer refunded to wallet").ForWallet(wallet),
	})
}

// TransferWalletToWallet moves funds between two users' wallets in one
// currency and completes immediately.
func (uc *transactionUsecase) TransferWalletToWallet(ctx context.Context, req WalletTransferRequest) (*models.Transaction, error) {
	const op = "wallet_to_wallet"
	at := uc.now()
	defer uc.metrics.ObserveDuration(op, time.Now())
	uc.logStart(op, req.User.ID, req.Amount)

	if req.Details.RecipientID == req.User.ID {
		return nil, uc.fail(op, models.ErrSameWallet)
	}
	if err := uc.checkAmount(ctx, req.Amount); err != nil {
		return nil, uc.fail(op, err)
	}

	fee, err := uc.fees.FeeFor(ctx, models.TransactionWalletToWallet, req.Amount)
	if err != nil {
		return nil, uc.fail(op, err)
	}
	total, err := req.Amount.Add(fee)
	if err != nil {
		return nil, uc.fail(op, err)
	}

	draft := uc.newTransaction(req.User, models.TypeOf(req.Details), req.Amount, fee, req.Description, models.MetadataOf(req.Details), at)

	var txn *models.Transaction
	err = uc.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// The store may rerun this func after a serialization conflict; each
		// attempt starts from the PENDING draft.
		attempt := *draft
		txn = &attempt

		if err := uc.limits.Check(ctx, tx.Transactions(), req.User, txn.Type, req.Amount); err != nil {
			return err
		}

		source, err := tx.Wallets().Get(ctx, req.User.ID, req.Amount.Currency)
		if err != nil {
			return err
		}
		destination, err := tx.Wallets().GetOrCreate(ctx, req.Details.RecipientID, req.Amount.Currency)
		if err != nil {
			return err
		}

		// Lock rows in id order so opposite transfers cannot deadlock.
		first, second := source.ID, destination.ID
		if compareUUID(first, second) > 0 {
			first, second = second, first
		}
		if _, err := tx.Wallets().GetForUpdate(ctx, first); err != nil {
			return err
		}
		if _, err := tx.Wallets().GetForUpdate(ctx, second); err != nil {
			return err
		}

		txn.SourceWalletID = uuid.NullUUID{UUID: source.ID, Valid: true}
		txn.DestinationWalletID = uuid.NullUUID{UUID: destination.ID, Valid: true}
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return err
		}

		if source, err = tx.Wallets().DebitAvailable(ctx, source.ID, total.Amount); err != nil {
			return err
		}
		if destination, err = tx.Wallets().CreditAvailable(ctx, destination.ID, req.Amount.Amount); err != nil {
			return err
		}

		entries := []models.LedgerEntry{
			models.Debit(models.AccountUserWallet, total, "wallet transfer sent").ForWallet(source),
			models.Credit(models.AccountUserWallet, req.Amount, "wallet transfer received").ForWallet(destination),
		}
		if fee.IsPositive() {
			entries = append(entries, models.Credit(models.AccountRevenue, fee, "wallet transfer fee"))
		}
		if err := uc.ledger.Post(ctx, tx, txn.ID, entries); err != nil {
			return err
		}
		if err := uc.emit(ctx, tx, txn, at); err != nil {
			return err
		}

		if err := txn.TransitionTo(models.StatusCompleted, at); err != nil {
			return err
		}
		if err := tx.Transactions().UpdateStatus(ctx, txn); err != nil {
			return err
		}
		return uc.emit(ctx, tx, txn, at)
	})
	if err != nil {
		return nil, uc.fail(op, err)
	}

	uc.logSuccess(op, txn)
	return txn, nil
}

func (uc *transactionUsecase) Complete(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := uc.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch txn.Type {
	case models.TransactionReceiveMobileMoney:
		return uc.CompleteReceive(ctx, id)
	case models.TransactionSendBankTransfer:
		return uc.CompleteBankTransfer(ctx, id)
	default:
		return nil, fmt.Errorf("%w: complete %s", models.ErrTransactionTypeMismatch, txn.Type)
	}
}

func (uc *transactionUsecase) Fail(ctx context.Context, id uuid.UUID, reason models.FailureReason) (*models.Transaction, error) {
	txn, err := uc.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch txn.Type {
	case models.TransactionReceiveMobileMoney:
		return uc.FailReceive(ctx, id, reason)
	case models.TransactionSendBankTransfer:
		return uc.FailBankTransfer(ctx, id, reason)
	default:
		return nil, fmt.Errorf("%w: fail %s", models.ErrTransactionTypeMismatch, txn.Type)
	}
}

// Quote prices a transaction without writing anything.
func (uc *transactionUsecase) Quote(ctx context.Context, req QuoteRequest) (*models.Quote, error) {
	if err := uc.checkAmount(ctx, req.Amount); err != nil {
		return nil, err
	}

	quote := &models.Quote{Type: req.Type, Amount: req.Amount}
	switch req.Type {
	case models.TransactionReceiveMobileMoney:
		gross := req.Amount
		if req.Amount.Currency != uc.homeCurrency {
			rate, err := uc.rates.CurrentRate(ctx, req.Amount.Currency, uc.homeCurrency, uc.now())
			if err != nil {
				return nil, err
			}
			if gross, err = uc.rates.Convert(rate, req.Amount, models.DirectionSell); err != nil {
				return nil, err
			}
			quote.Converted = &gross
			quote.ExchangeRate = decimal.NewNullDecimal(rate.SellRate)
		}
		fee, err := uc.fees.FeeFor(ctx, req.Type, gross)
		if err != nil {
			return nil, err
		}
		net, err := gross.Sub(fee)
		if err != nil {
			return nil, err
		}
		quote.Fee, quote.Total, quote.Net = fee, gross, net
	case models.TransactionSendBankTransfer, models.TransactionWalletToWallet:
		fee, err := uc.fees.FeeFor(ctx, req.Type, req.Amount)
		if err != nil {
			return nil, err
		}
		total, err := req.Amount.Add(fee)
		if err != nil {
			return nil, err
		}
		quote.Fee, quote.Total, quote.Net = fee, total, req.Amount
	default:
		return nil, fmt.Errorf("%w: quote %s", models.ErrTransactionTypeMismatch, req.Type)
	}
	return quote, nil
}

func (uc *transactionUsecase) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return uc.store.Queries().GetTransaction(ctx, id)
}

func (uc *transactionUsecase) ListLedgerEntries(ctx context.Context, id uuid.UUID) ([]models.LedgerEntry, error) {
	if _, err := uc.store.Queries().GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	return uc.store.Queries().ListLedgerEntries(ctx, id)
}

func (uc *transactionUsecase) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return uc.store.Queries().GetWallet(ctx, userID, currency)
}

type transitionFunc func(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error

// transition loads the transaction under lock, applies fn and records the
// lifecycle event, all in one unit of work.
func (uc *transactionUsecase) transition(ctx context.Context, op string, id uuid.UUID, fn transitionFunc) (*models.Transaction, error) {
	at := uc.now()
	defer uc.metrics.ObserveDuration(op, time.Now())
	uc.log.Info("Starting operation", logger.StringField("operation", op), logger.UUIDField("transaction_id", id))

	var result *models.Transaction
	err := uc.store.ExecuteTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		txn, err := tx.Transactions().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, txn, at); err != nil {
			return err
		}
		result = txn
		return uc.emit(ctx, tx, txn, at)
	})
	if err != nil {
		return nil, uc.fail(op, err)
	}

	uc.logSuccess(op, result)
	return result, nil
}

func (uc *transactionUsecase) newTransaction(user models.User, t models.TransactionType, amount, fee models.Money, description string, metadata map[string]any, at time.Time) *models.Transaction {
	return &models.Transaction{
		ID:          uuid.New(),
		UserID:      user.ID,
		Type:        t,
		Status:      models.StatusPending,
		Amount:      amount.Amount,
		Currency:    amount.Currency,
		FeeAmount:   fee.Amount,
		FeeCurrency: fee.Currency,
		Description: description,
		Metadata:    metadata,
		InitiatedAt: at,
		UpdatedAt:   at,
	}
}

// checkAmount rejects non-positive amounts, sub-cent precision and
// currencies outside the registry.
func (uc *transactionUsecase) checkAmount(ctx context.Context, amount models.Money) error {
	if !amount.IsPositive() || !amount.Amount.Equal(amount.Amount.Round(models.AmountPlaces)) {
		return fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount.Amount)
	}
	currency, err := uc.store.Currencies().Get(ctx, amount.Currency)
	if err != nil {
		return err
	}
	if !currency.IsActive {
		return fmt.Errorf("%w: %s", models.ErrUnsupportedCurrency, amount.Currency)
	}
	return nil
}

func (uc *transactionUsecase) emit(ctx context.Context, tx repository.Tx, txn *models.Transaction, at time.Time) error {
	event, err := models.NewTransactionEvent(txn, at)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", models.EventFor(txn.Status), err)
	}
	return tx.Outbox().Add(ctx, event)
}

func requireType(txn *models.Transaction, want models.TransactionType) error {
	if txn.Type != want {
		return fmt.Errorf("%w: %s is %s, not %s", models.ErrTransactionTypeMismatch, txn.ID, txn.Type, want)
	}
	return nil
}

// feeEntries books a fee from one account to another; nothing for a zero fee.
func feeEntries(fee models.Money, from, to models.AccountType, description string) []models.LedgerEntry {
	if !fee.IsPositive() {
		return nil
	}
	return []models.LedgerEntry{
		models.Debit(from, fee, description),
		models.Credit(to, fee, description),
	}
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (uc *transactionUsecase) logStart(op string, userID uuid.UUID, amount models.Money) {
	uc.log.Info("Starting operation",
		logger.StringField("operation", op),
		logger.UUIDField("user_id", userID),
		logger.StringField("amount", amount.String()))
}

func (uc *transactionUsecase) logSuccess(op string, txn *models.Transaction) {
	uc.metrics.TransactionStatus(string(txn.Type), string(txn.Status))
	uc.log.Info("Operation succeeded",
		logger.StringField("operation", op),
		logger.UUIDField("transaction_id", txn.ID),
		logger.StringField("status", string(txn.Status)),
		logger.DecimalField("amount", txn.Amount),
		logger.DecimalField("fee", txn.FeeAmount))
}

// fail logs err at a level matching who caused it and counts it.
func (uc *transactionUsecase) fail(op string, err error) error {
	reason := errorReason(err)
	uc.metrics.OperationFailed(op, reason)

	fields := []logger.Field{
		logger.StringField("operation", op),
		logger.StringField("reason", reason),
		logger.ErrorField("error", err),
	}
	switch reason {
	case "rate_unavailable", "unbalanced_ledger", "invariant_violation", "internal":
		uc.log.Error("Operation failed", fields...)
	default:
		uc.log.Warn("Operation rejected", fields...)
	}
	return err
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, models.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, models.ErrWalletInactive):
		return "wallet_inactive"
	case errors.Is(err, models.ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, models.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, models.ErrTransactionTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, models.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, models.ErrUnsupportedCurrency):
		return "unsupported_currency"
	case errors.Is(err, models.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, models.ErrSameWallet):
		return "same_wallet"
	case errors.Is(err, models.ErrRateUnavailable):
		return "rate_unavailable"
	case errors.Is(err, models.ErrUnbalancedLedgerEntry):
		return "unbalanced_ledger"
	case errors.Is(err, models.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
