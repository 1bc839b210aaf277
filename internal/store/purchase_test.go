package store

import (
	"testing"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
)

func newTestPurchase(saleID, buyerID string, qty float64, at time.Time) *Purchase {
	return &Purchase{
		SaleID:     saleID,
		Item:       domain.ItemFlower,
		SellerID:   "s1",
		BuyerID:    buyerID,
		Quantity:   dec(qty),
		ExecutedAt: at,
	}
}

func TestPurchaseLog_AppendAndList(t *testing.T) {
	l := NewPurchaseLog()
	now := time.Now()

	l.Append(newTestPurchase("sale_s1_1", "b1", 20, now))
	l.Append(newTestPurchase("sale_s1_1", "b2", 5, now.Add(time.Second)))

	purchases := l.ListBySeller("s1")
	if len(purchases) != 2 {
		t.Fatalf("ListBySeller = %d entries, want 2", len(purchases))
	}
	if purchases[0].BuyerID != "b1" || purchases[1].BuyerID != "b2" {
		t.Errorf("purchases out of chronological order: %v, %v", purchases[0].BuyerID, purchases[1].BuyerID)
	}
	if l.Count() != 2 {
		t.Errorf("Count() = %d, want 2", l.Count())
	}
}

func TestPurchaseLog_UnknownSeller(t *testing.T) {
	l := NewPurchaseLog()
	if got := l.ListBySeller("ghost"); len(got) != 0 {
		t.Errorf("ListBySeller(ghost) = %v, want empty", got)
	}
	if !l.SoldBySeller("ghost", domain.ItemOil).IsZero() {
		t.Error("SoldBySeller(ghost) should be zero")
	}
}

func TestPurchaseLog_SoldBySeller(t *testing.T) {
	l := NewPurchaseLog()
	now := time.Now()

	l.Append(newTestPurchase("sale_s1_1", "b1", 20, now))
	l.Append(newTestPurchase("sale_s1_1", "b2", 5, now))
	other := newTestPurchase("sale_s1_2", "b1", 7, now)
	other.Item = domain.ItemSugar
	l.Append(other)

	if got := l.SoldBySeller("s1", domain.ItemFlower); !got.Equal(dec(25)) {
		t.Errorf("SoldBySeller(flower) = %s, want 25", got)
	}
	if got := l.SoldBySeller("s1", domain.ItemSugar); !got.Equal(dec(7)) {
		t.Errorf("SoldBySeller(sugar) = %s, want 7", got)
	}
}

func TestPurchaseLog_ListIsACopy(t *testing.T) {
	l := NewPurchaseLog()
	l.Append(newTestPurchase("sale_s1_1", "b1", 1, time.Now()))

	list := l.ListBySeller("s1")
	list[0] = nil

	if got := l.ListBySeller("s1"); got[0] == nil {
		t.Error("mutating returned slice leaked into store")
	}
}
