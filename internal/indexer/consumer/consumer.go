// Package consumer reads snippet records from Kafka and feeds them to the
// index manager. A record is committed once it is indexed or recorded as
// malformed; storage faults are retried and, if they persist, leave the
// message uncommitted for redelivery.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/resilience"
)

// Ingester is the part of the index manager the consumer needs.
type Ingester interface {
	Ingest(ctx context.Context, rec snippet.Record) (indexer.Outcome, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that ingests one Record per
// message.
func HandleMessage(ing Ingester, rec failures.Recorder, retry resilience.RetryConfig) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		record, err := kafka.DecodeJSON[snippet.Record](value)
		if err != nil {
			logger.Error("failed to decode snippet record",
				"error", err,
				"key", string(key),
			)
			rec.Record(ctx, failures.FromError(snippet.Record{ID: string(key)}, "kafka", err))
			return nil
		}

		var out indexer.Outcome
		err = resilience.RetryIf(ctx, "kafka-ingest", retry, apperrors.IsRetryable, func() error {
			var ierr error
			out, ierr = ing.Ingest(ctx, record)
			return ierr
		})
		switch {
		case err == nil:
			logger.Debug("snippet record processed",
				"snippet_id", out.SnippetID,
				"doc_id", out.DocID,
				"decision", out.Decision,
			)
			return nil
		case failures.IsRecordable(err):
			rec.Record(ctx, failures.FromError(record, "kafka", err))
			return nil
		default:
			return fmt.Errorf("ingesting snippet %s: %w", record.ID, err)
		}
	}
}
