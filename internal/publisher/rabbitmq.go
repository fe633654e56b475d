package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// DefaultExchange is the topic exchange lifecycle events are published to.
const DefaultExchange = "storefront.events"

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes lifecycle events to a RabbitMQ topic exchange,
// routed by the same subject used on NATS.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
}

// NewRabbitPublisher dials url and declares a durable topic exchange.
func NewRabbitPublisher(url, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishEvent publishes ev as a persistent message.
func (p *RabbitPublisher) PublishEvent(ctx context.Context, ev model.LifecycleEvent) error {
	topic := model.Topic(ev.Type)
	env, err := model.Wrap(topic, ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.String("event_type", ev.Type), zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	start := time.Now()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		topic,      // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID.String(),
			CorrelationId: env.CorrelationID.String(),
			Timestamp:     env.Timestamp,
			Type:          ev.Type,
			Body:          body,
		},
	)
	metrics.ObserveDuration(metrics.MessageLatency, start, "rabbitmq", topic)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("routing_key", topic),
			zap.String("order_id", ev.OrderID.String()),
			zap.Error(err))
		metrics.IncMessage("rabbitmq", topic, "error")
		return err
	}
	metrics.IncMessage("rabbitmq", topic, "ok")
	return nil
}

// Attach forwards every event published on bus to RabbitMQ.
func (p *RabbitPublisher) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(eventbus.Wildcard, func(ev model.LifecycleEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.PublishEvent(ctx, ev)
	})
}

// Close closes the publisher
func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
