package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is immutable once inserted. TotalPrice is UnitPrice x Quantity as
// captured at creation.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ProductID       int64           `json:"product_id"`
	Quantity        int32           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	CreatedAt       time.Time       `json:"created_at"`
}
