package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/logger"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// SubjectWildcard matches every storefront lifecycle subject.
const SubjectWildcard = "evt.storefront.>"

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes lifecycle events as canonical envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	service string
}

// New creates a Publisher with JetStream, creating stream if it does not exist yet.
func New(nc *nats.Conn, stream, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if stream != "" {
		if _, err := js.StreamInfo(stream); errors.Is(err, nats.ErrStreamNotFound) {
			if _, err := js.AddStream(&nats.StreamConfig{
				Name:     stream,
				Subjects: []string{SubjectWildcard},
			}); err != nil {
				return nil, err
			}
			logger.S().Infow("publisher.stream_created", "stream", stream)
		} else if err != nil {
			return nil, err
		}
	}
	return &Publisher{nc: nc, js: js, service: service}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = env.Topic
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"actor":          []string{env.Actor},
			// JetStream drops duplicates carrying the same message id
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.MessageLatency, start, "nats", subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"actor", env.Actor,
			"error", err,
		)
		metrics.IncMessage("nats", subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)
	metrics.IncMessage("nats", subject, "ok")
	return nil
}

// PublishEvent wraps ev in an envelope and publishes it on its topic.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.LifecycleEvent) error {
	topic := model.Topic(ev.Type)
	env, err := model.Wrap(topic, ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, topic, env)
}

// Attach forwards every event published on bus to NATS.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(eventbus.Wildcard, func(ev model.LifecycleEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.PublishEvent(ctx, ev)
	})
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
