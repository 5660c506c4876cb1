package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCodeNotFound         = errors.New("discount code not found")
	ErrCodeExpired          = errors.New("discount code expired")
	ErrCodeExhausted        = errors.New("discount code exhausted")
	ErrMinimumNotMet        = errors.New("minimum order value not met")
	ErrInvalidCheckout      = errors.New("invalid checkout")
	ErrForbidden            = errors.New("forbidden")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderLocked          = errors.New("order can no longer be modified")
	ErrPaymentWindowExpired = errors.New("payment window expired")
	ErrPaymentNotAllowed    = errors.New("payment not allowed for this order")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrVariantNotFound      = errors.New("variant not found")

	ErrStaleOrderState  = errors.New("order state changed concurrently")
	ErrDuplicateRequest = errors.New("duplicate request")

	ErrInsufficientStock = errors.New("insufficient stock")

	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
)

// InsufficientStockError names the variant that could not cover a request.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
