package store

import (
	"sync"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// LedgerStore is a thread-safe in-memory store of per-seller stock ledgers,
// keyed by seller_id. A ledger maps each catalog item to the quantity not
// currently committed to any active sale. Ledgers outlive sessions: a seller
// that disconnects and returns within a process lifetime keeps its stock.
type LedgerStore struct {
	mu      sync.RWMutex
	ledgers map[string]map[domain.ItemName]decimal.Decimal
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		ledgers: make(map[string]map[domain.ItemName]decimal.Decimal),
	}
}

// Init seeds a seller's ledger with initial quantity of every catalog item.
// Idempotent: re-initializing an existing seller preserves its balances.
func (s *LedgerStore) Init(sellerID string, initial decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledgers[sellerID]; exists {
		return
	}
	ledger := make(map[domain.ItemName]decimal.Decimal, len(domain.Catalog))
	for _, item := range domain.Catalog {
		ledger[item] = initial
	}
	s.ledgers[sellerID] = ledger
}

// Exists returns true if the seller has a ledger.
func (s *LedgerStore) Exists(sellerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.ledgers[sellerID]
	return ok
}

// Available returns the seller's uncommitted quantity of item. It returns
// domain.ErrSellerNotFound if the seller has no ledger.
func (s *LedgerStore) Available(sellerID string, item domain.ItemName) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[sellerID]
	if !ok {
		return decimal.Zero, domain.ErrSellerNotFound
	}
	return ledger[item], nil
}

// Debit removes amount of item from the seller's ledger. The balance is
// pre-checked and never goes negative: an amount exceeding the balance
// returns domain.ErrInsufficientStock with no mutation.
func (s *LedgerStore) Debit(sellerID string, item domain.ItemName, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[sellerID]
	if !ok {
		return domain.ErrSellerNotFound
	}
	balance := ledger[item]
	if balance.LessThan(amount) {
		return domain.ErrInsufficientStock
	}
	ledger[item] = balance.Sub(amount)
	return nil
}

// Credit returns amount of item to the seller's ledger.
func (s *LedgerStore) Credit(sellerID string, item domain.ItemName, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[sellerID]
	if !ok {
		return domain.ErrSellerNotFound
	}
	ledger[item] = ledger[item].Add(amount)
	return nil
}

// Balances returns a copy of the seller's ledger. It returns
// domain.ErrSellerNotFound if the seller has no ledger.
func (s *LedgerStore) Balances(sellerID string) (map[domain.ItemName]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[sellerID]
	if !ok {
		return nil, domain.ErrSellerNotFound
	}
	out := make(map[domain.ItemName]decimal.Decimal, len(ledger))
	for item, qty := range ledger {
		out[item] = qty
	}
	return out, nil
}

// SellerIDs returns the IDs of all sellers with a ledger.
func (s *LedgerStore) SellerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	return ids
}
