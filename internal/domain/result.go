package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ResultCode is the failure kind carried by every caller-facing result.
type ResultCode string

const (
	CodeOK                ResultCode = "ok"
	CodeValidation        ResultCode = "validation_error"
	CodeNotFound          ResultCode = "not_found"
	CodeInsufficientStock ResultCode = "insufficient_stock"
	CodeConflict          ResultCode = "concurrency_conflict"
	CodeCanceled          ResultCode = "canceled"
	CodeInternal          ResultCode = "internal_error"
)

func (c ResultCode) String() string {
	return string(c)
}

const (
	MsgOrderCreated = "order created successfully"
	MsgItemAdded    = "item added successfully"
	MsgItemRemoved  = "item removed successfully"
	MsgItemUpdated  = "item quantity updated"
	MsgCheckedOut   = "checkout completed successfully"
	MsgInternal     = "internal error"
	MsgCanceled     = "request canceled"
)

type OrderResult struct {
	Success   bool       `json:"success"`
	OrderID   string     `json:"order_id,omitempty"`
	Message   string     `json:"message"`
	Code      ResultCode `json:"code"`
	Available *int32     `json:"available,omitempty"`
}

type CartResult struct {
	Success   bool            `json:"success"`
	CartID    string          `json:"cart_id,omitempty"`
	CartTotal decimal.Decimal `json:"cart_total"`
	Message   string          `json:"message"`
	Code      ResultCode      `json:"code"`
}

// CheckoutResult lists one order per cart line, all placed in a single unit.
type CheckoutResult struct {
	Success  bool       `json:"success"`
	OrderIDs []string   `json:"order_ids,omitempty"`
	Total    CartTotal  `json:"total"`
	Message  string     `json:"message"`
	Code     ResultCode `json:"code"`
}

// FailedOrder builds the failure result for err, hiding internal details.
func FailedOrder(err error) OrderResult {
	code := CodeOf(err)
	res := OrderResult{Code: code, Message: failureMessage(code, err)}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		available := stockErr.Available
		res.Available = &available
	}
	return res
}

func FailedCart(err error) CartResult {
	code := CodeOf(err)
	return CartResult{Code: code, Message: failureMessage(code, err), CartTotal: decimal.Zero}
}

func FailedCheckout(err error) CheckoutResult {
	code := CodeOf(err)
	return CheckoutResult{Code: code, Message: failureMessage(code, err)}
}

// publicErrors may be shown to callers verbatim.
var publicErrors = []error{
	ErrInvalidQuantity,
	ErrEmptyUserID,
	ErrNegativePrice,
	ErrNegativeStock,
	ErrEmptyCart,
	ErrQuantityTooLarge,
	ErrProductNotFound,
	ErrCartNotFound,
	ErrItemNotFound,
	ErrOrderNotFound,
}

func failureMessage(code ResultCode, err error) string {
	switch code {
	case CodeConflict:
		if errors.Is(err, ErrCartChanged) {
			return ErrCartChanged.Error()
		}
		return MsgInternal
	case CodeInternal:
		return MsgInternal
	case CodeCanceled:
		return MsgCanceled
	case CodeInsufficientStock:
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			return stockErr.Error()
		}
		return ErrInsufficientStock.Error()
	}
	for _, pe := range publicErrors {
		if errors.Is(err, pe) {
			return pe.Error()
		}
	}
	return MsgInternal
}
