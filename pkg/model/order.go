package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a persisted order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// OrderStatuses returns every status an operator may choose, in lifecycle order.
// Legality of a particular transition is decided by the backend.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus normalises s and checks it is an enumerated status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range orderStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderLineItem is the immutable snapshot of a cart line taken at order creation.
type OrderLineItem struct {
	ID         ID              `json:"id"`
	ProductRef ID              `json:"bookId"`
	Title      string          `json:"bookTitle,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// Order is a persisted order as returned by the marketplace.
type Order struct {
	ID              ID              `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	LineItems       []OrderLineItem `json:"orderItems"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	DeliveryAddress string          `json:"deliveryAddress"`
	DeliveryPhone   string          `json:"deliveryPhone"`
	DeliveryNotes   string          `json:"deliveryNotes,omitempty"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       Timestamp       `json:"createdAt"`
	UpdatedAt       Timestamp       `json:"updatedAt"`
}

// DeliverySpec is the buyer-supplied part of an order.
type DeliverySpec struct {
	Address string `json:"deliveryAddress"`
	Phone   string `json:"deliveryPhone"`
	Notes   string `json:"deliveryNotes"`
}

// OrderPage is one page of an actor's order history.
type OrderPage struct {
	Orders        []Order `json:"orders"`
	Page          int     `json:"page"`
	Size          int     `json:"size"`
	TotalElements int64   `json:"totalElements"`
	TotalPages    int     `json:"totalPages"`
}

// Document is a downloaded binary attachment.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// StatusChange is one recorded attempt to move an order to a new status.
type StatusChange struct {
	OrderID   ID          `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Actor     string      `json:"actor"`
	Accepted  bool        `json:"accepted"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}
