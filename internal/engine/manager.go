package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/efreitasn/marketbroker/internal/store"
	"github.com/shopspring/decimal"
)

// MarketManager is the authoritative market state: active sales keyed by
// sale ID and the seller ledgers. All mutating operations are serialized
// under a single manager-wide mutex; per-sale buy contention additionally
// goes through the sale's own lock.
type MarketManager struct {
	mu        sync.Mutex
	active    map[string]*domain.Sale
	expiry    *expiryIndex
	saleSeq   uint64
	ledgers   *store.LedgerStore
	purchases *store.PurchaseLog

	initialStock decimal.Decimal
	saleDuration time.Duration
	logger       *slog.Logger
}

// NewMarketManager creates a manager over the given ledger store and
// purchase log. saleDuration bounds every sale's lifetime and must be in
// (0, domain.MaxSaleDuration].
func NewMarketManager(
	ledgers *store.LedgerStore,
	purchases *store.PurchaseLog,
	initialStock decimal.Decimal,
	saleDuration time.Duration,
	logger *slog.Logger,
) *MarketManager {
	return &MarketManager{
		active:       make(map[string]*domain.Sale),
		expiry:       newExpiryIndex(),
		ledgers:      ledgers,
		purchases:    purchases,
		initialStock: initialStock,
		saleDuration: saleDuration,
		logger:       logger,
	}
}

// InitializeSellerStock seeds the seller's ledger with the default stock of
// every catalog item. Called once per seller registration; idempotent, and
// a returning seller keeps its prior balances.
func (m *MarketManager) InitializeSellerStock(sellerID string) {
	m.ledgers.Init(sellerID, m.initialStock)
	m.logger.Info("initialized stock for seller", slog.String("seller_id", sellerID))
}

// StartSale debits the seller's ledger and opens a new sale of the given
// item. It returns a snapshot of the new sale, or one of
// domain.ErrSellerNotFound, domain.ErrUnknownItem, domain.ErrInvalidQuantity,
// domain.ErrInsufficientStock.
func (m *MarketManager) StartSale(sellerID string, item domain.ItemName, quantity decimal.Decimal) (domain.SaleSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ledgers.Exists(sellerID) {
		return domain.SaleSnapshot{}, fmt.Errorf("%w: %s", domain.ErrSellerNotFound, sellerID)
	}
	if !domain.ValidItemName(item) {
		return domain.SaleSnapshot{}, fmt.Errorf("%w: %q", domain.ErrUnknownItem, item)
	}
	if quantity.Sign() <= 0 {
		return domain.SaleSnapshot{}, fmt.Errorf("%w: sale quantity must be positive", domain.ErrInvalidQuantity)
	}

	if err := m.ledgers.Debit(sellerID, item, quantity); err != nil {
		return domain.SaleSnapshot{}, err
	}

	m.saleSeq++
	id := fmt.Sprintf("sale_%s_%d", sellerID, m.saleSeq)
	sale, err := domain.NewSale(id, item, quantity, sellerID, m.saleDuration)
	if err != nil {
		// Roll the debit back; the duration is a construction-time constant,
		// so this only fires on a misconfigured manager.
		_ = m.ledgers.Credit(sellerID, item, quantity)
		return domain.SaleSnapshot{}, err
	}

	m.active[id] = sale
	m.expiry.add(sale)

	m.logger.Info("sale started",
		slog.String("sale_id", id),
		slog.String("item", string(item)),
		slog.String("quantity", quantity.String()),
		slog.String("seller_id", sellerID),
	)
	return sale.Snapshot(), nil
}

// HandleBuyRequest attempts to purchase quantity from the sale. A missing,
// expired, force-closed, or insufficiently stocked sale is a normal false
// outcome, not an error; only a non-positive quantity errors.
func (m *MarketManager) HandleBuyRequest(saleID string, quantity decimal.Decimal, buyerID string) (bool, error) {
	if quantity.Sign() <= 0 {
		return false, fmt.Errorf("%w: purchase amount must be positive", domain.ErrInvalidQuantity)
	}

	m.mu.Lock()
	sale, ok := m.active[saleID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("buy request for unknown sale", slog.String("sale_id", saleID))
		return false, nil
	}

	ok, err := sale.TryPurchase(quantity)
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.Warn("purchase failed",
			slog.String("sale_id", saleID),
			slog.String("quantity", quantity.String()),
			slog.String("buyer_id", buyerID),
		)
		return false, nil
	}

	m.purchases.Append(&store.Purchase{
		SaleID:     saleID,
		Item:       sale.Name,
		SellerID:   sale.SellerID,
		BuyerID:    buyerID,
		Quantity:   quantity,
		ExecutedAt: time.Now(),
	})
	m.logger.Info("purchase successful",
		slog.String("sale_id", saleID),
		slog.String("quantity", quantity.String()),
		slog.String("buyer_id", buyerID),
	)
	return true, nil
}

// EndSellerSales force-closes every active sale owned by sellerID, removes
// them, and credits unsold remainders back to the ledger. Idempotent when
// the seller has no active sales. It returns snapshots of the closed sales.
func (m *MarketManager) EndSellerSales(sellerID string) []domain.SaleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []domain.SaleSnapshot
	for id, sale := range m.active {
		if sale.SellerID != sellerID {
			continue
		}
		closed = append(closed, m.closeSaleLocked(id, sale))
	}
	if len(closed) == 0 {
		m.logger.Info("no active sales to end", slog.String("seller_id", sellerID))
	}
	return closed
}

// closeSaleLocked force-closes a sale, removes it from the active map and
// expiry index, and credits the remaining quantity back to the seller.
// Caller holds m.mu.
func (m *MarketManager) closeSaleLocked(id string, sale *domain.Sale) domain.SaleSnapshot {
	sale.ForceClose()
	delete(m.active, id)
	m.expiry.remove(sale)

	snap := sale.Snapshot()
	if snap.Quantity.Sign() > 0 {
		if err := m.ledgers.Credit(sale.SellerID, sale.Name, snap.Quantity); err != nil {
			m.logger.Error("failed to return unsold quantity",
				slog.String("sale_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.Info("sale ended",
		slog.String("sale_id", id),
		slog.String("returned", snap.Quantity.String()),
		slog.String("seller_id", sale.SellerID),
	)
	return snap
}

// ActiveItems returns immutable snapshots of all open sales. The snapshot
// set is consistent under the manager lock but may be stale by the time a
// client reads it.
func (m *MarketManager) ActiveItems() []domain.SaleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.SaleSnapshot, 0, len(m.active))
	for _, sale := range m.active {
		if sale.Expired() {
			continue
		}
		items = append(items, sale.Snapshot())
	}
	return items
}

// SellerFor returns the seller that owns the sale, or false if the sale is
// not active.
func (m *MarketManager) SellerFor(saleID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.active[saleID]
	if !ok {
		return "", false
	}
	return sale.SellerID, true
}

// SellerStock returns the seller's current ledger balances.
func (m *MarketManager) SellerStock(sellerID string) (map[domain.ItemName]decimal.Decimal, error) {
	return m.ledgers.Balances(sellerID)
}

// ActiveSaleCount returns the number of sales in the active map, expired or
// not. Useful for testing.
func (m *MarketManager) ActiveSaleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
