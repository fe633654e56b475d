package api

import (
	"github.com/shopspring/decimal"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// AddItemRequest puts one unit of a listing in the cart.
type AddItemRequest struct {
	ProductID model.ID        `json:"productId"`
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	Price     decimal.Decimal `json:"price"`
}

func (r AddItemRequest) Validate() error {
	verr := &model.ValidationError{}
	if r.ProductID.IsZero() {
		verr.Add("productId", "Product id is required")
	}
	if r.Price.IsNegative() {
		verr.Add("price", "Price cannot be negative")
	}
	return verr.OrNil()
}

func (r AddItemRequest) Product() model.Product {
	return model.Product{ID: r.ProductID, Title: r.Title, Author: r.Author, Price: r.Price}
}

// Quantity actions accepted by UpdateItemRequest.
const (
	ActionIncrement = "increment"
	ActionDecrement = "decrement"
)

// UpdateItemRequest either sets an absolute quantity or steps it by one.
type UpdateItemRequest struct {
	Quantity *int   `json:"quantity,omitempty"`
	Action   string `json:"action,omitempty"`
}

func (r UpdateItemRequest) Validate() error {
	verr := &model.ValidationError{}
	switch {
	case r.Quantity == nil && r.Action == "":
		verr.Add("quantity", "Quantity or action is required")
	case r.Quantity != nil && r.Action != "":
		verr.Add("action", "Send either quantity or action")
	case r.Action != "" && r.Action != ActionIncrement && r.Action != ActionDecrement:
		verr.Add("action", "Action must be increment or decrement")
	}
	return verr.OrNil()
}

// StatusUpdateRequest moves an order to a new status.
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// Verification states reported to the browser.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StatePending = "pending"
)

// VerificationResponse is the outcome of a gateway return or simulation.
type VerificationResponse struct {
	State       string                `json:"state"`
	Message     string                `json:"message,omitempty"`
	Payment     *model.PaymentAttempt `json:"payment,omitempty"`
	Order       *model.Order          `json:"order,omitempty"`
	CartCleared bool                  `json:"cartCleared"`
	Simulated   bool                  `json:"simulated,omitempty"`
}

func newVerificationResponse(res *model.VerificationResult) VerificationResponse {
	state := StatePending
	switch res.Attempt.Outcome {
	case model.OutcomeSuccess:
		state = StateSuccess
	case model.OutcomeFailed:
		state = StateFailed
	}
	attempt := res.Attempt
	return VerificationResponse{
		State:       state,
		Payment:     &attempt,
		Order:       res.Order,
		CartCleared: res.CartCleared,
		Simulated:   res.Simulated,
	}
}

// HandoffResponse is the JSON form of the gateway hand-off, for API clients
// that build their own form.
type HandoffResponse struct {
	OrderID model.ID          `json:"orderId"`
	Action  string            `json:"action"`
	Method  string            `json:"method"`
	Fields  map[string]string `json:"fields"`
}
