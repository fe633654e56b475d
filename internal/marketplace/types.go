package marketplace

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// bookDTO is the listing embedded in cart items.
type bookDTO struct {
	ID     model.ID        `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	Price  decimal.Decimal `json:"price"`
}

// CartItemDTO is a cart line as the marketplace serialises it. Older endpoints
// embed the book, newer ones flatten productId/unitPrice.
type CartItemDTO struct {
	ID        model.ID         `json:"id"`
	Quantity  int              `json:"quantity"`
	ProductID model.ID         `json:"productId"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	Book      *bookDTO         `json:"book"`
}

// ToModel maps the wire item onto a cart line item.
func (d CartItemDTO) ToModel() model.CartLineItem {
	li := model.CartLineItem{
		ID:         d.ID,
		ProductRef: d.ProductID,
		Quantity:   d.Quantity,
	}
	if d.Book != nil {
		if li.ProductRef.IsZero() {
			li.ProductRef = d.Book.ID
		}
		li.Title = d.Book.Title
		li.UnitPriceSnapshot = d.Book.Price
	}
	if d.UnitPrice != nil {
		li.UnitPriceSnapshot = *d.UnitPrice
	}
	return li
}

type cartResponse struct {
	Items []CartItemDTO `json:"items"`
}

type addItemRequest struct {
	ProductID model.ID `json:"productId"`
	Quantity  int      `json:"quantity"`
}

type addItemResponse struct {
	Item     *CartItemDTO `json:"item"`
	CartItem *CartItemDTO `json:"cartItem"`
}

func (r addItemResponse) line() *CartItemDTO {
	if r.Item != nil {
		return r.Item
	}
	return r.CartItem
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type orderEnvelope struct {
	Order *model.Order `json:"order"`
}

type initiateResponse struct {
	EsewaParams map[string]json.RawMessage `json:"esewaParams"`
}

// gatewayParams keeps each value exactly as the backend rendered it:
// strings are unquoted, numbers keep their literal text.
func (r initiateResponse) gatewayParams() model.GatewayParams {
	out := make(model.GatewayParams, len(r.EsewaParams))
	for k, raw := range r.EsewaParams {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = strings.TrimSpace(string(raw))
	}
	return out
}

type verifyResponse struct {
	Status  string   `json:"status"`
	OrderID model.ID `json:"orderId"`
}

type orderPageResponse struct {
	Content       []model.Order `json:"content"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	CurrentPage   int           `json:"currentPage"`
	Size          int           `json:"size"`
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
}

type countResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
