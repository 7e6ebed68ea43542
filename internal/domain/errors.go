package domain

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the stores and services
var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrNegativePrice       = errors.New("product price cannot be negative")
	ErrNegativeStock       = errors.New("product stock cannot be negative")
	ErrProductNotFound     = errors.New("product not found")
	ErrCartNotFound        = errors.New("cart not found")
	ErrItemNotFound        = errors.New("item not found in cart")
	ErrOrderNotFound       = errors.New("order not found")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrCartChanged         = errors.New("cart changed during checkout")
	ErrQuantityTooLarge    = errors.New("cart quantity exceeds the maximum")
	ErrInternal            = errors.New("internal error")
)

// InsufficientStockError carries the stock that was available when the
// decrement was refused.
type InsufficientStockError struct {
	ProductID int64
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock, only %d available", e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, ErrNegativePrice) ||
		errors.Is(err, ErrNegativeStock) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrQuantityTooLarge)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// CodeOf classifies err into the result taxonomy. Anything unrecognised is
// internal.
func CodeOf(err error) ResultCode {
	var stockErr *InsufficientStockError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInternal):
		return CodeInternal
	case IsValidation(err):
		return CodeValidation
	case IsNotFound(err):
		return CodeNotFound
	case errors.As(err, &stockErr), errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrCartChanged):
		return CodeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
