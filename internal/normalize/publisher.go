package normalize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/kafka"
)

const publishBatchSize = 500

// EventWriter is the Kafka producer surface the publisher needs.
type EventWriter interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher sends normalized records to the ingest topic, keyed by snippet
// id so every version of a snippet lands on the same partition.
type Publisher struct {
	writer EventWriter
	logger *slog.Logger
}

func NewPublisher(w EventWriter) *Publisher {
	return &Publisher{
		writer: w,
		logger: slog.Default().With("component", "normalizer-publisher"),
	}
}

// Publish writes recs in batches and reports how many were sent before any
// failure.
func (p *Publisher) Publish(ctx context.Context, recs []snippet.Record) (int, error) {
	sent := 0
	for start := 0; start < len(recs); start += publishBatchSize {
		end := min(start+publishBatchSize, len(recs))
		events := make([]kafka.Event, 0, end-start)
		for _, r := range recs[start:end] {
			events = append(events, kafka.Event{Key: r.ID, Value: r})
		}
		if err := p.writer.PublishBatch(ctx, events); err != nil {
			return sent, fmt.Errorf("publishing records %d-%d: %w", start, end-1, err)
		}
		sent += len(events)
	}
	p.logger.Info("records published", "count", sent)
	return sent, nil
}
