package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MaxSaleDuration is the hard upper bound on a sale's lifetime. The expiry
// sweeper reclaims anything older.
const MaxSaleDuration = 60 * time.Second

// Sale is a single time-bounded offer of a quantity of one catalog item by
// one seller. The remaining quantity is guarded by the sale's own mutex so
// that buy contention on one sale does not serialize against cross-sale
// operations.
type Sale struct {
	ID       string
	Name     ItemName
	SellerID string
	Start    time.Time
	Duration time.Duration

	mu          sync.Mutex
	remaining   decimal.Decimal
	forceClosed bool
}

// NewSale constructs an open sale. Duration must be in (0, MaxSaleDuration];
// anything else returns ErrInvalidDuration.
func NewSale(id string, name ItemName, quantity decimal.Decimal, sellerID string, duration time.Duration) (*Sale, error) {
	if duration <= 0 || duration > MaxSaleDuration {
		return nil, ErrInvalidDuration
	}
	return &Sale{
		ID:        id,
		Name:      name,
		SellerID:  sellerID,
		Start:     time.Now(),
		Duration:  duration,
		remaining: quantity,
	}, nil
}

// TryPurchase decrements the remaining quantity by amount iff the sale is
// open and has at least that much left. The open-check and the decrement are
// a single atomic step: two buyers racing for the last unit see exactly one
// success. Amount must be strictly positive.
func (s *Sale) TryPurchase(amount decimal.Decimal) (bool, error) {
	if amount.Sign() <= 0 {
		return false, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forceClosed || s.expiredLocked(time.Now()) {
		return false, nil
	}
	if s.remaining.LessThan(amount) {
		return false, nil
	}
	s.remaining = s.remaining.Sub(amount)
	return true, nil
}

// ForceClose marks the sale closed. Idempotent. Subsequent TryPurchase calls
// return false and RemainingTime reports zero.
func (s *Sale) ForceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceClosed = true
}

// Remaining returns the current remaining quantity.
func (s *Sale) Remaining() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Deadline returns the instant at which the sale expires.
func (s *Sale) Deadline() time.Time {
	return s.Start.Add(s.Duration)
}

// RemainingTime returns max(0, deadline − now), or 0 if force-closed.
func (s *Sale) RemainingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceClosed {
		return 0
	}
	rem := time.Until(s.Deadline())
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the sale is no longer open, either because the
// deadline passed or because it was force-closed. Depletion to zero does not
// expire a sale.
func (s *Sale) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceClosed || s.expiredLocked(time.Now())
}

func (s *Sale) expiredLocked(now time.Time) bool {
	return !now.Before(s.Deadline())
}

// Snapshot returns an immutable value copy of the sale, safe to ship over
// the wire without further synchronization.
func (s *Sale) Snapshot() SaleSnapshot {
	s.mu.Lock()
	remaining := s.remaining
	closed := s.forceClosed
	s.mu.Unlock()

	var remTime time.Duration
	if !closed {
		if rem := time.Until(s.Deadline()); rem > 0 {
			remTime = rem
		}
	}
	return SaleSnapshot{
		ID:            s.ID,
		Name:          s.Name,
		Quantity:      remaining,
		SellerID:      s.SellerID,
		RemainingTime: remTime,
	}
}

// SaleSnapshot is the immutable view of a sale handed to sessions and
// serialized into LIST_ITEMS and STOCK_UPDATE payloads.
type SaleSnapshot struct {
	ID            string
	Name          ItemName
	Quantity      decimal.Decimal
	SellerID      string
	RemainingTime time.Duration
}
