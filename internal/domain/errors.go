package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The session layer maps these to wire ERROR replies.
var (
	ErrSellerNotFound    = errors.New("seller_not_found")
	ErrUnknownItem       = errors.New("unknown_item")
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidDuration   = errors.New("invalid_duration")
)
