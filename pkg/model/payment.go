package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentOutcome is the verified state of a payment attempt.
type PaymentOutcome string

const (
	OutcomePending PaymentOutcome = "PENDING"
	OutcomeSuccess PaymentOutcome = "SUCCESS"
	OutcomeFailed  PaymentOutcome = "FAILED"
)

// ParseOutcome maps a backend status onto an outcome. Anything unrecognised is PENDING.
func ParseOutcome(s string) PaymentOutcome {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "COMPLETE", "COMPLETED":
		return OutcomeSuccess
	case "FAILED", "FAILURE", "CANCELED", "CANCELLED":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// IsTerminal reports whether re-verifying could still change the outcome.
func (o PaymentOutcome) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// GatewayParams are the opaque form fields the backend issues for the gateway.
type GatewayParams map[string]string

// PaymentAttempt is reconstructed on each verification.
type PaymentAttempt struct {
	OrderID          ID             `json:"orderId,omitempty"`
	GatewayReference string         `json:"gatewayReference"`
	Outcome          PaymentOutcome `json:"status"`
}

// VerificationResult is what a caller receives after reconciliation.
type VerificationResult struct {
	Attempt     PaymentAttempt `json:"payment"`
	Order       *Order         `json:"order,omitempty"`
	CartCleared bool           `json:"cartCleared"`
	Simulated   bool           `json:"simulated,omitempty"`
}

// SimulationRequest carries the out-of-band confirmation for the test gateway.
type SimulationRequest struct {
	OrderID  ID     `json:"orderId"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SimulatedReference is the gateway reference recorded for simulated payments.
func SimulatedReference(orderID ID) string {
	return fmt.Sprintf("SIM-%s", orderID)
}

// OrderPaymentStatus is the backend's view of whether an order has been paid.
type OrderPaymentStatus struct {
	OrderID     ID              `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	OrderStatus OrderStatus     `json:"orderStatus"`
	IsPaid      bool            `json:"isPaid"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// GatewaySettings are the hand-off endpoint and simulation credentials in effect.
type GatewaySettings struct {
	Endpoint           string
	SimulationEmail    string
	SimulationPassword string
}
