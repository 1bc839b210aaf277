package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Quantities are real-valued and cross the wire as JSON numbers. Internally
// all arithmetic runs on decimal.Decimal so that debits, credits, and
// purchase decrements cancel exactly. The float64 conversion happens only at
// the protocol boundary.

// QuantityFromFloat converts a wire float into a decimal quantity. It rejects
// NaN, infinities, and non-positive values — every quantity a client submits
// (sale size, purchase amount) must be strictly positive.
func QuantityFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: not a finite number", ErrInvalidQuantity)
	}
	if f <= 0 {
		return decimal.Zero, fmt.Errorf("%w: must be positive, got %v", ErrInvalidQuantity, f)
	}
	return decimal.NewFromFloat(f), nil
}

// QuantityToFloat converts a decimal quantity back to a wire float.
func QuantityToFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
