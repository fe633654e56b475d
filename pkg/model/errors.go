package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated means the current actor has no usable credential.
	// Cart reads degrade to an empty cart; every other operation fails with it.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrEmptyCart is returned by order creation when there is nothing to buy.
	// Callers send the buyer back to browsing rather than showing a form error.
	ErrEmptyCart = errors.New("cart is empty")

	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrLineItemNotFound means the line item is not in the local cart.
	ErrLineItemNotFound = errors.New("line item not found")

	// ErrCheckoutInProgress means another order creation for the same actor is in flight.
	ErrCheckoutInProgress = errors.New("checkout already in progress")

	ErrInvalidSimulationCredentials = errors.New("invalid simulation credentials")
	ErrSimulationDisabled           = errors.New("payment simulation is disabled")
)

// ValidationError carries field-level messages for inline display.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a message for field; it returns the receiver for chaining.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
	return e
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// CartSyncError is a rejected remote cart mutation. Local state is untouched.
type CartSyncError struct {
	Op  string
	Err error
}

func (e *CartSyncError) Error() string { return fmt.Sprintf("cart %s failed: %v", e.Op, e.Err) }
func (e *CartSyncError) Unwrap() error { return e.Err }

// OrderCreationError wraps a rejected order creation; Message is the server's.
type OrderCreationError struct {
	Message string
	Err     error
}

func (e *OrderCreationError) Error() string { return "order creation failed: " + e.Message }
func (e *OrderCreationError) Unwrap() error { return e.Err }

// PaymentInitiationError means the backend could not produce gateway params.
type PaymentInitiationError struct {
	OrderID ID
	Message string
	Err     error
}

func (e *PaymentInitiationError) Error() string {
	return fmt.Sprintf("payment initiation for order %s failed: %s", e.OrderID, e.Message)
}
func (e *PaymentInitiationError) Unwrap() error { return e.Err }

// PaymentVerificationError means the outcome could not be confirmed. The cart is preserved.
type PaymentVerificationError struct {
	Reference string
	Message   string
	Err       error
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("payment verification for %s failed: %s", e.Reference, e.Message)
}
func (e *PaymentVerificationError) Unwrap() error { return e.Err }

// TransitionFailure classifies a rejected status change.
type TransitionFailure string

const (
	TransitionUnauthorized TransitionFailure = "unauthorized"
	TransitionForbidden    TransitionFailure = "forbidden"
	TransitionNotFound     TransitionFailure = "not_found"
	TransitionServer       TransitionFailure = "server"
	TransitionRejected     TransitionFailure = "rejected"
)

// StatusTransitionError is an operator-facing status change failure.
type StatusTransitionError struct {
	OrderID ID
	Target  OrderStatus
	Kind    TransitionFailure
	Status  int
	Message string
	Err     error
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("set status %s on order %s: %s (%s)", e.Target, e.OrderID, e.Message, e.Kind)
}
func (e *StatusTransitionError) Unwrap() error { return e.Err }

// UserMessage is the copy shown to the operator.
func (e *StatusTransitionError) UserMessage() string {
	switch e.Kind {
	case TransitionForbidden:
		return "Access denied. Please login again."
	case TransitionUnauthorized:
		return "Authentication required. Please login."
	case TransitionNotFound:
		return "Order not found."
	case TransitionServer:
		return "Server error. Please try again later."
	}
	if e.Message != "" {
		return e.Message
	}
	return "Failed to update order status"
}

// ClassifyTransition maps an HTTP status from the backend onto a failure kind.
func ClassifyTransition(status int) TransitionFailure {
	switch {
	case status == 401:
		return TransitionUnauthorized
	case status == 403:
		return TransitionForbidden
	case status == 404:
		return TransitionNotFound
	case status >= 500:
		return TransitionServer
	default:
		return TransitionRejected
	}
}
