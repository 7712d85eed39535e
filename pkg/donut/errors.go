package donut

import "errors"

// Validation errors surfaced synchronously to callers. None of these leave
// any state behind.
var (
	ErrUnknownOutlet         = errors.New("unknown outlet")
	ErrUnknownProduct        = errors.New("unknown product")
	ErrUnknownOrder          = errors.New("unknown order")
	ErrOutletClosed          = errors.New("outlet is closed")
	ErrBadQuantity           = errors.New("quantity must be positive")
	ErrBadPrice              = errors.New("price must be positive")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInsufficientBalance   = errors.New("insufficient balance")
)
