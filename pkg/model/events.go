package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted on the in-process bus and forwarded to brokers.
const (
	EventCartCleared        = "cart.cleared"
	EventOrderCreated       = "order.created"
	EventPaymentInitiated   = "payment.initiated"
	EventPaymentVerified    = "payment.verified"
	EventOrderStatusChanged = "order.status_changed"
)

// LifecycleEvent describes one step of the order and payment lifecycle.
type LifecycleEvent struct {
	Type      string         `json:"type"`
	Actor     string         `json:"actor"`
	OrderID   ID             `json:"order_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Reference string         `json:"reference,omitempty"`
	Amount    string         `json:"amount,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps a lifecycle event with the current time.
func NewEvent(eventType, actor string, orderID ID) LifecycleEvent {
	return LifecycleEvent{
		Type:      eventType,
		Actor:     actor,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
}

// Envelope is the canonical broker message wrapping a lifecycle event.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Actor         string          `json:"actor"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Wrap builds an envelope for ev on topic.
func Wrap(topic string, ev LifecycleEvent) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Actor:         ev.Actor,
		Topic:         topic,
		EventType:     ev.Type,
		Version:       "1.0.0",
		Timestamp:     ev.Timestamp,
		Payload:       payload,
	}, nil
}

// Topic is the broker subject for an event type, e.g. evt.storefront.order.created.v1.
func Topic(eventType string) string {
	return "evt.storefront." + eventType + ".v1"
}
