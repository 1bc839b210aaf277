package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/google/btree"
)

// Notifier receives sweep results so the transport layer can fan out
// SALE_END and STOCK_UPDATE broadcasts without the engine depending on it.
type Notifier interface {
	SalesExpired(closed []domain.SaleSnapshot)
}

// expiryEntry indexes one active sale by its deadline.
type expiryEntry struct {
	deadline time.Time
	saleID   string
	sale     *domain.Sale
}

// expiryLess orders entries by deadline ascending, then sale ID for
// uniqueness. Min() is always the next sale to expire.
func expiryLess(a, b expiryEntry) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.saleID < b.saleID
}

// expiryIndex keeps active sales in a B-tree ordered by deadline so each
// sweep tick touches only the entries that are actually due.
type expiryIndex struct {
	tree *btree.BTreeG[expiryEntry]
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{
		tree: btree.NewG[expiryEntry](8, expiryLess),
	}
}

func (x *expiryIndex) add(sale *domain.Sale) {
	x.tree.ReplaceOrInsert(expiryEntry{
		deadline: sale.Deadline(),
		saleID:   sale.ID,
		sale:     sale,
	})
}

func (x *expiryIndex) remove(sale *domain.Sale) {
	x.tree.Delete(expiryEntry{deadline: sale.Deadline(), saleID: sale.ID})
}

// due returns every entry whose deadline is at or before now, front of the
// tree first.
func (x *expiryIndex) due(now time.Time) []expiryEntry {
	var out []expiryEntry
	x.tree.Ascend(func(e expiryEntry) bool {
		if e.deadline.After(now) {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// StartSweeper launches the background goroutine that expires sales whose
// deadlines have passed. It ticks at the configured interval (1s in the
// default configuration, which bounds how long a sale can outlive its
// deadline) and stops when ctx is cancelled.
func (m *MarketManager) StartSweeper(ctx context.Context, interval time.Duration, notifier Notifier) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.sweep(now, notifier)
			}
		}
	}()
}

// sweep closes every sale whose deadline has passed, routing each through
// the same close path as EndSellerSales. The notifier runs outside the
// manager lock.
func (m *MarketManager) sweep(now time.Time, notifier Notifier) {
	m.mu.Lock()
	var closed []domain.SaleSnapshot
	for _, e := range m.expiry.due(now) {
		if _, ok := m.active[e.saleID]; !ok {
			continue
		}
		closed = append(closed, m.closeSaleLocked(e.saleID, e.sale))
	}
	m.mu.Unlock()

	if len(closed) == 0 {
		return
	}
	for _, snap := range closed {
		m.logger.Info("cleaned up expired sale", slog.String("sale_id", snap.ID))
	}
	if notifier != nil {
		notifier.SalesExpired(closed)
	}
}

// Sweep runs a single sweep pass at the given instant. Useful for testing
// without waiting on the ticker.
func (m *MarketManager) Sweep(now time.Time, notifier Notifier) {
	m.sweep(now, notifier)
}
