package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"ticketeer/internal/platform/config"
)

// AMQP routes envelopes through a topic exchange using the event type as
// routing key; the consumer group owns one durable queue bound to all types.
type AMQP struct {
	conn     *amqp.Connection
	mu       sync.Mutex // amqp channels are not safe for concurrent publishes
	pub      *amqp.Channel
	exchange string
	queue    string
	logger   *slog.Logger
}

func NewAMQP(cfg config.Broker, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	exchange := topicName(cfg.TopicPrefix)
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQP{
		conn:     conn,
		pub:      ch,
		exchange: exchange,
		queue:    cfg.ConsumerGroup,
		logger:   logger,
	}, nil
}

func (a *AMQP) Publish(_ context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.pub.Publish(a.exchange, env.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: key,
		Timestamp:     env.OccurredAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

// Consume acks handled deliveries and nacks failures back onto the queue.
// Undecodable bodies are rejected without requeue.
func (a *AMQP) Consume(ctx context.Context, h Handler) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(a.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", a.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				a.logger.ErrorContext(ctx, "rejecting undecodable message", "error", err)
				_ = d.Reject(false)
				continue
			}
			if err := h(ctx, env); err != nil {
				a.logger.WarnContext(ctx, "event handler failed, requeueing", "type", env.Type, "event_id", env.ID, "error", err)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.pub.Close()
	return a.conn.Close()
}
