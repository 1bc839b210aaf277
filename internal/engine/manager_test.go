package engine

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/efreitasn/marketbroker/internal/store"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testManager bundles the manager with its stores for assertions.
type testManager struct {
	mgr       *MarketManager
	ledgers   *store.LedgerStore
	purchases *store.PurchaseLog
}

func newTestManager(t rapid.TB, saleDuration time.Duration) *testManager {
	t.Helper()
	ledgers := store.NewLedgerStore()
	purchases := store.NewPurchaseLog()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testManager{
		mgr:       NewMarketManager(ledgers, purchases, dec(1000), saleDuration, logger),
		ledgers:   ledgers,
		purchases: purchases,
	}
}

func (tm *testManager) available(t *testing.T, sellerID string, item domain.ItemName) decimal.Decimal {
	t.Helper()
	got, err := tm.ledgers.Available(sellerID, item)
	if err != nil {
		t.Fatalf("Available(%s, %s): %v", sellerID, item, err)
	}
	return got
}

func TestStartSale(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")

	snap, err := tm.mgr.StartSale("s1", domain.ItemFlower, dec(50))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}
	if snap.SellerID != "s1" || snap.Name != domain.ItemFlower {
		t.Errorf("snapshot fields wrong: %+v", snap)
	}
	if !snap.Quantity.Equal(dec(50)) {
		t.Errorf("snapshot quantity = %s, want 50", snap.Quantity)
	}
	if got := tm.available(t, "s1", domain.ItemFlower); !got.Equal(dec(950)) {
		t.Errorf("ledger after StartSale = %s, want 950", got)
	}
	if tm.mgr.ActiveSaleCount() != 1 {
		t.Errorf("ActiveSaleCount = %d, want 1", tm.mgr.ActiveSaleCount())
	}
}

func TestStartSale_Errors(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")

	tests := []struct {
		name     string
		sellerID string
		item     domain.ItemName
		quantity decimal.Decimal
		wantErr  error
	}{
		{"unknown seller", "ghost", domain.ItemOil, dec(5), domain.ErrSellerNotFound},
		{"unknown item", "s1", "diamond", dec(5), domain.ErrUnknownItem},
		{"zero quantity", "s1", domain.ItemOil, decimal.Zero, domain.ErrInvalidQuantity},
		{"negative quantity", "s1", domain.ItemOil, dec(-3), domain.ErrInvalidQuantity},
		{"insufficient stock", "s1", domain.ItemOil, dec(9_999_996), domain.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.mgr.StartSale(tt.sellerID, tt.item, tt.quantity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StartSale error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// No failed start may have touched the ledger.
	if got := tm.available(t, "s1", domain.ItemOil); !got.Equal(dec(1000)) {
		t.Errorf("ledger after failed starts = %s, want 1000", got)
	}
	if tm.mgr.ActiveSaleCount() != 0 {
		t.Errorf("ActiveSaleCount = %d, want 0", tm.mgr.ActiveSaleCount())
	}
}

func TestStartSale_UniqueIDs(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		snap, err := tm.mgr.StartSale("s1", domain.ItemSugar, dec(1))
		if err != nil {
			t.Fatalf("StartSale #%d: %v", i, err)
		}
		if seen[snap.ID] {
			t.Fatalf("duplicate sale ID %s", snap.ID)
		}
		seen[snap.ID] = true
	}
}

func TestHandleBuyRequest(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	snap, err := tm.mgr.StartSale("s1", domain.ItemFlower, dec(50))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}

	ok, err := tm.mgr.HandleBuyRequest(snap.ID, dec(20), "b1")
	if err != nil || !ok {
		t.Fatalf("HandleBuyRequest = (%v, %v), want (true, nil)", ok, err)
	}

	items := tm.mgr.ActiveItems()
	if len(items) != 1 {
		t.Fatalf("ActiveItems = %d entries, want 1", len(items))
	}
	if !items[0].Quantity.Equal(dec(30)) {
		t.Errorf("remaining after buy = %s, want 30", items[0].Quantity)
	}

	// The purchase is committed to the log.
	if tm.purchases.Count() != 1 {
		t.Errorf("purchase log count = %d, want 1", tm.purchases.Count())
	}
	if got := tm.purchases.SoldBySeller("s1", domain.ItemFlower); !got.Equal(dec(20)) {
		t.Errorf("SoldBySeller = %s, want 20", got)
	}
}

func TestHandleBuyRequest_Failures(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	snap, err := tm.mgr.StartSale("s1", domain.ItemSugar, dec(10))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}

	t.Run("unknown sale", func(t *testing.T) {
		ok, err := tm.mgr.HandleBuyRequest("sale_ghost_1", dec(1), "b1")
		if err != nil || ok {
			t.Errorf("buy on unknown sale = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("more than remaining", func(t *testing.T) {
		ok, err := tm.mgr.HandleBuyRequest(snap.ID, dec(11), "b1")
		if err != nil || ok {
			t.Errorf("oversized buy = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := tm.mgr.HandleBuyRequest(snap.ID, decimal.Zero, "b1")
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("zero buy error = %v, want ErrInvalidQuantity", err)
		}
	})

	t.Run("sold out stays active", func(t *testing.T) {
		ok, err := tm.mgr.HandleBuyRequest(snap.ID, dec(10), "b1")
		if err != nil || !ok {
			t.Fatalf("draining buy = (%v, %v), want (true, nil)", ok, err)
		}
		// Depleted sale remains in the active map until closed.
		if tm.mgr.ActiveSaleCount() != 1 {
			t.Errorf("ActiveSaleCount after depletion = %d, want 1", tm.mgr.ActiveSaleCount())
		}
		ok, err = tm.mgr.HandleBuyRequest(snap.ID, dec(1), "b2")
		if err != nil || ok {
			t.Errorf("buy on depleted sale = (%v, %v), want (false, nil)", ok, err)
		}
	})
}

func TestEndSellerSales(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	tm.mgr.InitializeSellerStock("s2")

	snap, err := tm.mgr.StartSale("s1", domain.ItemFlower, dec(50))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}
	if _, err := tm.mgr.StartSale("s2", domain.ItemOil, dec(5)); err != nil {
		t.Fatalf("StartSale s2: %v", err)
	}

	if ok, err := tm.mgr.HandleBuyRequest(snap.ID, dec(20), "b1"); err != nil || !ok {
		t.Fatalf("HandleBuyRequest = (%v, %v)", ok, err)
	}

	closed := tm.mgr.EndSellerSales("s1")
	if len(closed) != 1 {
		t.Fatalf("EndSellerSales closed %d sales, want 1", len(closed))
	}

	// Unsold 30 flows back: 1000 − 50 + 30 = 980.
	if got := tm.available(t, "s1", domain.ItemFlower); !got.Equal(dec(980)) {
		t.Errorf("ledger after end = %s, want 980", got)
	}

	// s2's sale is untouched.
	if tm.mgr.ActiveSaleCount() != 1 {
		t.Errorf("ActiveSaleCount = %d, want 1", tm.mgr.ActiveSaleCount())
	}
	if _, ok := tm.mgr.SellerFor(snap.ID); ok {
		t.Error("closed sale still resolvable via SellerFor")
	}

	// Idempotent with nothing active.
	if closed := tm.mgr.EndSellerSales("s1"); len(closed) != 0 {
		t.Errorf("second EndSellerSales closed %d sales, want 0", len(closed))
	}
}

func TestEndSellerSales_RoundTrip(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")

	before := tm.available(t, "s1", domain.ItemPotato)
	if _, err := tm.mgr.StartSale("s1", domain.ItemPotato, dec(40)); err != nil {
		t.Fatalf("StartSale: %v", err)
	}
	tm.mgr.EndSellerSales("s1")

	after := tm.available(t, "s1", domain.ItemPotato)
	if !after.Equal(before) {
		t.Errorf("start+end round trip: ledger %s, want %s", after, before)
	}
}

func TestSellerFor(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	snap, err := tm.mgr.StartSale("s1", domain.ItemOil, dec(5))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}

	if seller, ok := tm.mgr.SellerFor(snap.ID); !ok || seller != "s1" {
		t.Errorf("SellerFor = (%q, %v), want (s1, true)", seller, ok)
	}
	if _, ok := tm.mgr.SellerFor("nope"); ok {
		t.Error("SellerFor(nope) = true, want false")
	}
}

func TestSellerStock(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	if _, err := tm.mgr.StartSale("s1", domain.ItemSugar, dec(100)); err != nil {
		t.Fatalf("StartSale: %v", err)
	}

	stock, err := tm.mgr.SellerStock("s1")
	if err != nil {
		t.Fatalf("SellerStock: %v", err)
	}
	if !stock[domain.ItemSugar].Equal(dec(900)) {
		t.Errorf("stock[sugar] = %s, want 900", stock[domain.ItemSugar])
	}
	if !stock[domain.ItemFlower].Equal(dec(1000)) {
		t.Errorf("stock[flower] = %s, want 1000", stock[domain.ItemFlower])
	}

	if _, err := tm.mgr.SellerStock("ghost"); !errors.Is(err, domain.ErrSellerNotFound) {
		t.Errorf("SellerStock(ghost) error = %v, want ErrSellerNotFound", err)
	}
}

// Concurrent buys against one sale through the manager: winners' total never
// exceeds the available quantity.
func TestHandleBuyRequest_Concurrent(t *testing.T) {
	tm := newTestManager(t, domain.MaxSaleDuration)
	tm.mgr.InitializeSellerStock("s1")
	snap, err := tm.mgr.StartSale("s1", domain.ItemSugar, dec(10))
	if err != nil {
		t.Fatalf("StartSale: %v", err)
	}

	var wg sync.WaitGroup
	successes := make([]bool, 2)
	for i := range successes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := tm.mgr.HandleBuyRequest(snap.ID, dec(10), "buyer")
			if err != nil {
				t.Errorf("HandleBuyRequest: %v", err)
			}
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	if successes[0] == successes[1] {
		t.Errorf("want exactly one winner, got %v and %v", successes[0], successes[1])
	}

	items := tm.mgr.ActiveItems()
	if len(items) != 1 || !items[0].Quantity.IsZero() {
		t.Errorf("remaining after race = %+v, want single sale at 0", items)
	}
}
