// Package broker carries domain events between the API and background
// workers. Three transports share one interface: an in-process fan-out for
// development and tests, Kafka through franz-go, and RabbitMQ through amqp.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketeer/internal/platform/config"
)

// Domain event types.
const (
	TypeOrderPaid         = "order.paid"
	TypeOrderRefunded     = "order.refunded"
	TypeBookingConfirmed  = "booking.confirmed"
	TypeCertificateIssued = "certificate.issued"
	TypeEventCancelled    = "event.cancelled"
)

// Envelope is the wire shape of every domain event.
type Envelope struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope marshals data under a fresh event ID.
func NewEnvelope(eventType string, occurredAt time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		Type:       eventType,
		ID:         uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	}, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Handler processes one delivery. A non-nil error asks the transport to
// redeliver when it supports it.
type Handler func(ctx context.Context, env Envelope) error

type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

type Consumer interface {
	// Consume blocks, dispatching deliveries to h until ctx ends.
	Consume(ctx context.Context, h Handler) error
}

type Broker interface {
	Publisher
	Consumer
	Close() error
}

// New selects the transport named by cfg.Kind.
func New(cfg config.Broker, logger *slog.Logger) (Broker, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "kafka":
		return NewKafka(cfg, logger)
	case "amqp":
		return NewAMQP(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// Emit builds an envelope and publishes it, keyed by subject.
func Emit(ctx context.Context, p Publisher, eventType, subject string, occurredAt time.Time, data any) error {
	env, err := NewEnvelope(eventType, occurredAt, data)
	if err != nil {
		return err
	}
	return p.Publish(ctx, subject, env)
}

func topicName(prefix string) string {
	if prefix == "" {
		prefix = "ticketeer"
	}
	return prefix + ".events"
}
