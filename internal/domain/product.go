package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog record. Stock is owned by the inventory ledger and is
// only ever lowered through it.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Stock         int32           `json:"stock"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InStock reports whether at least qty units can be sold.
func (p Product) InStock(qty int32) bool {
	return qty > 0 && p.Stock >= qty
}
