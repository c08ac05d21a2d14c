package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Event is one message to publish. Key picks the partition; Value is sent as
// JSON.
type Event struct {
	Key   string
	Value any
}

// Producer writes JSON events to one topic, waiting for all in-sync replicas.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    500,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
		},
		brokers: cfg.Brokers,
		logger:  slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// PublishBatch writes events in one call. When the broker rejects some of
// them the error reports how many failed; the write is not retried here.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", event.Key, err)
		}
		messages[i] = kafka.Message{Key: []byte(event.Key), Value: value}
	}

	err := p.writer.WriteMessages(ctx, messages...)
	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
		p.logger.Debug("batch published", "count", len(messages))
		return nil
	case errors.As(err, &writeErrs):
		p.logger.Error("batch partially published", "failed", writeErrs.Count(), "count", len(messages))
		return fmt.Errorf("publishing batch: %d of %d messages failed: %w", writeErrs.Count(), len(messages), err)
	default:
		p.logger.Error("batch publish failed", "count", len(messages), "error", err)
		return fmt.Errorf("publishing batch: %w", err)
	}
}

func (p *Producer) Ping(ctx context.Context) error {
	return pingBrokers(ctx, p.brokers)
}

// Close flushes buffered messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}
