package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"ticketeer/internal/platform/config"
)

// Kafka publishes every envelope to one topic keyed by subject, so events for
// the same order keep their relative order within a partition.
type Kafka struct {
	client      *kgo.Client
	topic       string
	partitions  int32
	replication int16
	logger      *slog.Logger
}

func NewKafka(cfg config.Broker, logger *slog.Logger) (*Kafka, error) {
	topic := topicName(cfg.TopicPrefix)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{
		client:      client,
		topic:       topic,
		partitions:  int32(max(cfg.KafkaPartitions, 1)),
		replication: int16(max(cfg.KafkaReplication, 1)),
		logger:      logger,
	}, nil
}

// EnsureTopic creates the events topic when it does not exist yet.
func (k *Kafka) EnsureTopic(ctx context.Context) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopic(ctx, k.partitions, k.replication, nil, k.topic)
	if err == nil {
		err = resp.Err
	}
	switch {
	case errors.Is(err, kerr.TopicAlreadyExists):
		return nil
	case err != nil:
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	k.logger.InfoContext(ctx, "created kafka topic", "topic", k.topic, "partitions", k.partitions)
	return nil
}

func (k *Kafka) Publish(ctx context.Context, key string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	rec := &kgo.Record{
		Topic:   k.topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "type", Value: []byte(env.Type)}},
	}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", env.Type, err)
	}
	return nil
}

// Consume commits offsets only after every record of a fetch was handled; a
// failed record is logged and skipped so one poisoned message cannot stall the
// partition.
func (k *Kafka) Consume(ctx context.Context, h Handler) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			k.logger.ErrorContext(ctx, "kafka fetch failed", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			var env Envelope
			if err := json.Unmarshal(rec.Value, &env); err != nil {
				k.logger.ErrorContext(ctx, "dropping undecodable record", "offset", rec.Offset, "error", err)
				return
			}
			if err := h(ctx, env); err != nil {
				k.logger.ErrorContext(ctx, "event handler failed", "type", env.Type, "event_id", env.ID, "error", err)
			}
		})
		if err := k.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

func (k *Kafka) Close() error {
	k.client.Close()
	return nil
}
