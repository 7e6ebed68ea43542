package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `json:"id" bson:"_id"`
	UserID    string     `json:"user_id" bson:"user_id"`
	Items     []CartItem `json:"items" bson:"items"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// CartItem quantity is always > 0; a line that would drop to zero is removed.
type CartItem struct {
	ProductID int64     `json:"product_id" bson:"product_id"`
	Quantity  int32     `json:"quantity" bson:"quantity"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID int64) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// IsEmpty is true for a nil cart or a cart with no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// CartTotal is derived on every read and never stored.
type CartTotal struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	TotalWithTax decimal.Decimal `json:"total_with_tax"`
}

// CartItemDetail is a cart line joined with current catalog data.
type CartItemDetail struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int32           `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}
