package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/models"
	"github.com/Nzyazin/moneybridge/internal/core/repository"
	"github.com/google/uuid"
)

type walletKey struct {
	userID   uuid.UUID
	currency string
}

// state is everything a unit of work may change.
type state struct {
	wallets      map[uuid.UUID]models.Wallet
	walletIndex  map[walletKey]uuid.UUID
	transactions map[uuid.UUID]models.Transaction
	ledger       []models.LedgerEntry
	conversions  map[uuid.UUID]models.CurrencyConversion
	outbox       []models.OutboxEvent
}

func newState() *state {
	return &state{
		wallets:      map[uuid.UUID]models.Wallet{},
		walletIndex:  map[walletKey]uuid.UUID{},
		transactions: map[uuid.UUID]models.Transaction{},
		conversions:  map[uuid.UUID]models.CurrencyConversion{},
	}
}

func (s *state) clone() *state {
	return &state{
		wallets:      maps.Clone(s.wallets),
		walletIndex:  maps.Clone(s.walletIndex),
		transactions: maps.Clone(s.transactions),
		ledger:       slices.Clone(s.ledger),
		conversions:  maps.Clone(s.conversions),
		outbox:       slices.Clone(s.outbox),
	}
}

// Store keeps all state in process. One mutex serialises units of work and
// each runs against a copy that replaces the state only on success.
type Store struct {
	mu    sync.Mutex
	state *state

	refMu      sync.RWMutex
	rates      []models.ExchangeRate
	fees       []models.FeePolicy
	limits     map[int]models.TransactionLimit
	currencies map[string]models.Currency
	now        func() time.Time
}

func NewStore() *Store {
	s := &Store{
		state:      newState(),
		limits:     map[int]models.TransactionLimit{},
		currencies: map[string]models.Currency{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, c := range models.DefaultCurrencies {
		s.currencies[c.Code] = c
	}
	return s
}

// WithClock sets the clock used for wallet timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Rates() repository.ExchangeRateRepository { return (*rateRepo)(s) }
func (s *Store) Fees() repository.FeeRepository           { return (*feeRepo)(s) }
func (s *Store) Limits() repository.LimitRepository       { return (*limitRepo)(s) }
func (s *Store) Currencies() repository.CurrencyRepository { return (*currencyRepo)(s) }
func (s *Store) Queries() repository.QueryRepository       { return (*queryRepo)(s) }

// AddRate, AddFee, AddLimit and AddCurrency seed reference data.
func (s *Store) AddRate(r models.ExchangeRate) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rates = append(s.rates, r)
}

func (s *Store) AddFee(f models.FeePolicy) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	s.fees = append(s.fees, f)
}

func (s *Store) AddLimit(l models.TransactionLimit) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.limits[l.KYCLevel] = l
}

func (s *Store) AddCurrency(c models.Currency) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.currencies[c.Code] = c
}

// SetWallet overwrites a wallet's balances, creating it if needed.
func (s *Store) SetWallet(w models.Wallet) models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := walletKey{userID: w.UserID, currency: w.Currency}
	if id, ok := s.state.walletIndex[key]; ok {
		w.ID = id
	} else if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	w.UpdatedAt = s.now()
	s.state.wallets[w.ID] = w
	s.state.walletIndex[key] = w.ID
	return w
}

// Outbox returns a copy of every outbox event in insertion order.
func (s *Store) Outbox() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.outbox)
}

// Wallets returns a copy of every wallet.
func (s *Store) Wallets() []models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.state.wallets))
}

// Transactions returns a copy of every transaction.
func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.state.transactions))
}

// Conversions returns a copy of every recorded conversion.
func (s *Store) Conversions() []models.CurrencyConversion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.state.conversions))
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) Wallets() repository.WalletRepository           { return (*walletRepo)(t) }
func (t *memTx) Transactions() repository.TransactionRepository { return (*transactionRepo)(t) }
func (t *memTx) Ledger() repository.LedgerRepository             { return (*ledgerRepo)(t) }
func (t *memTx) Conversions() repository.ConversionRepository    { return (*conversionRepo)(t) }
func (t *memTx) Outbox() repository.OutboxRepository             { return (*outboxRepo)(t) }
