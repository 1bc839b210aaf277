package handler

import (
	"net/http"
	"sort"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/efreitasn/marketbroker/internal/engine"
	"github.com/efreitasn/marketbroker/internal/store"
)

// SessionCounter reports connected sessions per role. Implemented by the
// broker server; an interface here keeps the admin surface testable without
// sockets.
type SessionCounter interface {
	SessionCounts() map[string]int
}

// StatsHandler serves the read-only operational view of the market.
type StatsHandler struct {
	manager   *engine.MarketManager
	ledgers   *store.LedgerStore
	purchases *store.PurchaseLog
	sessions  SessionCounter
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(
	manager *engine.MarketManager,
	ledgers *store.LedgerStore,
	purchases *store.PurchaseLog,
	sessions SessionCounter,
) *StatsHandler {
	return &StatsHandler{
		manager:   manager,
		ledgers:   ledgers,
		purchases: purchases,
		sessions:  sessions,
	}
}

type saleStats struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Quantity      float64 `json:"quantity"`
	SellerID      string  `json:"sellerId"`
	RemainingTime int64   `json:"remainingTime"`
}

type sellerStats struct {
	SellerID string             `json:"sellerId"`
	Stock    map[string]float64 `json:"stock"`
}

type statsResponse struct {
	Sessions    map[string]int `json:"sessions"`
	ActiveSales []saleStats    `json:"activeSales"`
	Sellers     []sellerStats  `json:"sellers"`
	Purchases   int            `json:"purchases"`
}

// Get handles GET /stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sales := make([]saleStats, 0)
	for _, snap := range h.manager.ActiveItems() {
		sales = append(sales, saleStats{
			ID:            snap.ID,
			Name:          string(snap.Name),
			Quantity:      domain.QuantityToFloat(snap.Quantity),
			SellerID:      snap.SellerID,
			RemainingTime: snap.RemainingTime.Milliseconds(),
		})
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })

	sellerIDs := h.ledgers.SellerIDs()
	sort.Strings(sellerIDs)
	sellers := make([]sellerStats, 0, len(sellerIDs))
	for _, id := range sellerIDs {
		balances, err := h.ledgers.Balances(id)
		if err != nil {
			continue
		}
		stock := make(map[string]float64, len(balances))
		for item, qty := range balances {
			stock[string(item)] = domain.QuantityToFloat(qty)
		}
		sellers = append(sellers, sellerStats{SellerID: id, Stock: stock})
	}

	WriteJSON(w, http.StatusOK, statsResponse{
		Sessions:    h.sessions.SessionCounts(),
		ActiveSales: sales,
		Sellers:     sellers,
		Purchases:   h.purchases.Count(),
	})
}
