package model

import "github.com/shopspring/decimal"

// Product is the listing a buyer adds to the cart.
type Product struct {
	ID     ID              `json:"id"`
	Title  string          `json:"title,omitempty"`
	Author string          `json:"author,omitempty"`
	Price  decimal.Decimal `json:"price"`
}

// CartLineItem is one product in the cart. ID is empty until the remote cart
// has assigned one.
type CartLineItem struct {
	ID                ID              `json:"id,omitempty"`
	ProductRef        ID              `json:"productRef"`
	Title             string          `json:"title,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unitPriceSnapshot"`
}

// Subtotal is UnitPriceSnapshot * Quantity.
func (li CartLineItem) Subtotal() decimal.Decimal {
	return li.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// CartState is the coarse synchronisation state of a cart.
type CartState string

const (
	CartUnknown  CartState = "UNKNOWN"
	CartHydrated CartState = "HYDRATED"
)

// CartSnapshot is a point-in-time copy of a cart.
type CartSnapshot struct {
	State     CartState       `json:"state"`
	Items     []CartLineItem  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
	Pending   []string        `json:"pending,omitempty"`
}
