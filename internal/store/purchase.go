package store

import (
	"sync"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// Purchase records one committed quantity decrement against a sale.
type Purchase struct {
	SaleID     string
	Item       domain.ItemName
	SellerID   string
	BuyerID    string
	Quantity   decimal.Decimal
	ExecutedAt time.Time
}

// PurchaseLog is a thread-safe append-only record of committed purchases,
// kept per seller in chronological order.
type PurchaseLog struct {
	mu       sync.RWMutex
	bySeller map[string][]*Purchase
	total    int
}

// NewPurchaseLog creates an empty PurchaseLog.
func NewPurchaseLog() *PurchaseLog {
	return &PurchaseLog{
		bySeller: make(map[string][]*Purchase),
	}
}

// Append adds a purchase to the seller's chronological list.
func (l *PurchaseLog) Append(p *Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bySeller[p.SellerID] = append(l.bySeller[p.SellerID], p)
	l.total++
}

// ListBySeller returns all purchases against the seller's sales in
// chronological order. Returns an empty slice for an unknown seller.
func (l *PurchaseLog) ListBySeller(sellerID string) []*Purchase {
	l.mu.RLock()
	defer l.mu.RUnlock()

	purchases := l.bySeller[sellerID]
	if purchases == nil {
		return []*Purchase{}
	}
	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*Purchase, len(purchases))
	copy(result, purchases)
	return result
}

// Count returns the total number of committed purchases.
func (l *PurchaseLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// SoldBySeller sums the committed quantity of item across the seller's
// purchase history.
func (l *PurchaseLog) SoldBySeller(sellerID string, item domain.ItemName) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := decimal.Zero
	for _, p := range l.bySeller[sellerID] {
		if p.Item == item {
			sum = sum.Add(p.Quantity)
		}
	}
	return sum
}
